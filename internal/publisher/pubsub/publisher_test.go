package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestClient(t *testing.T) (*pstest.Server, *pubsub.Client) {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = client.CreateTopic(ctx, "crawl-runs")
	require.NoError(t, err)
	return srv, client
}

func TestPublishSendsJSONWithAttributes(t *testing.T) {
	t.Parallel()

	srv, client := newTestClient(t)
	pub, err := New(client, "crawl-runs")
	require.NoError(t, err)
	t.Cleanup(func() { _ = pub.Close() })

	payload := map[string]any{"run_id": "run-1", "listings_collected": 3}
	id, err := pub.Publish(context.Background(), payload, map[string]string{"run_id": "run-1"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "run-1", msgs[0].Attributes["run_id"])

	var got map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, "run-1", got["run_id"])
	require.InDelta(t, 3, got["listings_collected"], 0)
}

func TestDialEndpointPublishesToEmulator(t *testing.T) {
	t.Parallel()

	srv, _ := newTestClient(t)
	pub, err := Dial(context.Background(), Config{
		ProjectID: "test-project",
		TopicID:   "crawl-runs",
		Endpoint:  srv.Addr,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pub.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	id, err := pub.Publish(ctx, map[string]string{"run_id": "run-2"}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.Len(t, srv.Messages(), 1)
}

func TestPublishToMissingTopicFails(t *testing.T) {
	t.Parallel()

	_, client := newTestClient(t)
	pub, err := New(client, "does-not-exist")
	require.NoError(t, err)
	t.Cleanup(func() { _ = pub.Close() })

	_, err = pub.Publish(context.Background(), "x", nil)
	require.Error(t, err)
}

func TestPublishRejectsUnmarshalablePayload(t *testing.T) {
	t.Parallel()

	_, client := newTestClient(t)
	pub, err := New(client, "crawl-runs")
	require.NoError(t, err)
	t.Cleanup(func() { _ = pub.Close() })

	_, err = pub.Publish(context.Background(), make(chan int), nil)
	require.ErrorContains(t, err, "marshal payload")
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, "topic")
	require.Error(t, err)

	_, err = Dial(context.Background(), Config{TopicID: "t"})
	require.Error(t, err)

	var nilPub *Publisher
	_, err = nilPub.Publish(context.Background(), "x", nil)
	require.Error(t, err)
	require.NoError(t, nilPub.Close())
}
