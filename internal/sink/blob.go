package sink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/storage"
)

// BlobConfig names the objects a BlobSink writes.
type BlobConfig struct {
	Prefix string
	Name   string
	Format Format
}

// BlobSink implements crawler.Sink by encoding the batch into a single object.
type BlobSink struct {
	store  storage.BlobStore
	cfg    BlobConfig
	logger *zap.Logger
}

// NewBlobSink wires a BlobSink.
func NewBlobSink(store storage.BlobStore, cfg BlobConfig, logger *zap.Logger) (*BlobSink, error) {
	if store == nil {
		return nil, errors.New("blob store is required")
	}
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, errors.New("output name is required")
	}
	if _, err := ParseFormat(string(cfg.Format)); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BlobSink{store: store, cfg: cfg, logger: logger}, nil
}

// Write encodes the batch and stores it under ObjectName.
func (s *BlobSink) Write(ctx context.Context, batch crawler.Batch) (string, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, s.cfg.Format, batch.Records); err != nil {
		return "", err
	}
	size := buf.Len()
	name := ObjectName(s.cfg.Prefix, s.cfg.Name, batch.CreatedAt, batch.RunID, s.cfg.Format)
	uri, err := s.store.PutObject(ctx, name, s.cfg.Format.ContentType(), &buf)
	if err != nil {
		return "", fmt.Errorf("put %s: %w", name, err)
	}
	s.logger.Info("records written",
		zap.String("uri", uri),
		zap.Int("records", len(batch.Records)),
		zap.Int("bytes", size),
	)
	return uri, nil
}

// ObjectName builds <prefix>/<name>_<YYYYMMDD_HHMMSS>_<runID>.<ext> with the
// timestamp in UTC.
func ObjectName(prefix, name string, at time.Time, runID string, format Format) string {
	base := fmt.Sprintf("%s_%s", name, at.UTC().Format("20060102_150405"))
	if runID != "" {
		base += "_" + runID
	}
	base += "." + format.Ext()
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return base
	}
	return path.Join(prefix, base)
}
