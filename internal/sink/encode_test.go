package sink

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

func sampleRecords() []crawler.DetailRecord {
	return []crawler.DetailRecord{
		{Listing: crawler.ListingRecord{"회사이름": "사람인", "타이틀": "R&D <팀장>"}},
		{
			Listing:     crawler.ListingRecord{"회사이름": "Acme"},
			Details:     map[string]string{"경력": "신입"},
			CompanyInfo: map[string]string{},
		},
	}
}

func TestEncodeJSONL(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, FormatJSONL, sampleRecords()))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	require.Equal(t, `{"타이틀":"R&D <팀장>","회사이름":"사람인"}`, lines[0])
	require.Equal(t, `{"company_info":{},"details":{"경력":"신입"},"회사이름":"Acme"}`, lines[1])
}

func TestEncodeJSONArrayIndentsFourSpaces(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, FormatJSON, sampleRecords()[:1]))

	want := "[\n" +
		"    {\n" +
		"        \"타이틀\": \"R&D <팀장>\",\n" +
		"        \"회사이름\": \"사람인\"\n" +
		"    }\n" +
		"]\n"
	require.Equal(t, want, buf.String())
}

func TestEncodeEmpty(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, FormatJSON, nil))
	require.Equal(t, "[]\n", buf.String())

	buf.Reset()
	require.NoError(t, Encode(&buf, FormatJSONL, nil))
	require.Empty(t, buf.String())
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	f, err := ParseFormat("jsonl")
	require.NoError(t, err)
	require.Equal(t, "application/x-ndjson", f.ContentType())

	f, err = ParseFormat("json")
	require.NoError(t, err)
	require.Equal(t, "json", f.Ext())

	_, err = ParseFormat("csv")
	require.Error(t, err)
	require.Error(t, Encode(&bytes.Buffer{}, Format("csv"), nil))
}
