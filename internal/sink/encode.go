// Package sink encodes crawl output and hands it to a storage destination.
package sink

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// Format selects the output encoding.
type Format string

// Supported formats.
const (
	FormatJSONL Format = "jsonl"
	FormatJSON  Format = "json"
)

// ParseFormat validates a configured format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatJSONL, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown sink format %q", s)
	}
}

// Ext is the file extension without the dot.
func (f Format) Ext() string {
	return string(f)
}

// ContentType is the MIME type stored alongside the object.
func (f Format) ContentType() string {
	if f == FormatJSONL {
		return "application/x-ndjson"
	}
	return "application/json"
}

// Encode writes records to w in order. JSON output is an array indented with
// four spaces; JSONL output is one compact object per line. Neither escapes
// HTML characters or non-ASCII text.
func Encode(w io.Writer, format Format, records []crawler.DetailRecord) error {
	if records == nil {
		records = []crawler.DetailRecord{}
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	switch format {
	case FormatJSON:
		enc.SetIndent("", "    ")
		if err := enc.Encode(records); err != nil {
			return fmt.Errorf("encode json array: %w", err)
		}
	case FormatJSONL:
		for i, rec := range records {
			if err := enc.Encode(rec); err != nil {
				return fmt.Errorf("encode record %d: %w", i, err)
			}
		}
	default:
		return fmt.Errorf("unknown sink format %q", format)
	}
	return nil
}
