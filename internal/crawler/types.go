package crawler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// ListingRecord holds the named string fields extracted from one listing entry.
// A configured field that was not found is stored as "", never omitted.
type ListingRecord map[string]string

// Clone returns a copy that shares no state with r.
func (r ListingRecord) Clone() ListingRecord {
	out := make(ListingRecord, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Detail is the structured data scraped from a detail page.
type Detail struct {
	Details     map[string]string
	CompanyInfo map[string]string
}

// Keys DetailRecord nests detail page data under. Listing fields must not
// use them.
const (
	DetailsKey     = "details"
	CompanyInfoKey = "company_info"
)

// DetailRecord is a listing record extended with its detail page data.
// Records that were never enriched carry nil maps and encode without the
// "details" and "company_info" keys.
type DetailRecord struct {
	Listing     ListingRecord
	Details     map[string]string
	CompanyInfo map[string]string
}

// Enriched reports whether the record carries detail page data.
func (r DetailRecord) Enriched() bool {
	return r.Details != nil || r.CompanyInfo != nil
}

// MarshalJSON flattens the listing fields and nests the detail maps. HTML
// characters in scraped text are kept literally.
func (r DetailRecord) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Listing)+2)
	for k, v := range r.Listing {
		out[k] = v
	}
	if r.Enriched() {
		out[DetailsKey] = nonNil(r.Details)
		out[CompanyInfoKey] = nonNil(r.CompanyInfo)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(out); err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func nonNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

// ListingOnly wraps listing records as un-enriched output records.
func ListingOnly(records []ListingRecord) []DetailRecord {
	out := make([]DetailRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, DetailRecord{Listing: rec})
	}
	return out
}

// Document is a loaded page handle: the parsed DOM plus the URL it came from.
type Document struct {
	URL *url.URL
	*goquery.Document
}

// ParseDocument parses HTML read from r as the page at rawURL.
func ParseDocument(rawURL string, r io.Reader) (*Document, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse document url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Document{URL: u, Document: doc}, nil
}

// Batch is the ordered output handed to a Sink.
type Batch struct {
	RunID     string
	CreatedAt time.Time
	Records   []DetailRecord
}

// StopReason explains why the listing phase ended.
type StopReason string

// Listing phase stop reasons.
const (
	StopTargetReached StopReason = "target_reached"
	StopFetchError    StopReason = "fetch_error"
	StopMaxPages      StopReason = "max_pages"
	StopCanceled      StopReason = "canceled"
)

// Summary describes a finished run. It is logged and published.
type Summary struct {
	RunID             string     `json:"run_id"`
	StartedAt         time.Time  `json:"started_at"`
	FinishedAt        time.Time  `json:"finished_at"`
	PagesVisited      int        `json:"pages_visited"`
	ListingsCollected int        `json:"listings_collected"`
	DetailsEnriched   int        `json:"details_enriched"`
	DetailsFailed     int        `json:"details_failed"`
	StoppedBy         StopReason `json:"stopped_by"`
	OutputURI         string     `json:"output_uri"`
}
