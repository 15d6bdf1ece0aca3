package extract

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// ListingSchema locates candidates on a listing page and the fields inside
// each one.
type ListingSchema struct {
	CandidateSelector string `mapstructure:"candidate_selector" yaml:"candidate_selector"`
	// IDPrefix filters out candidates (ad slots, banners) whose id attribute
	// does not start with it. Filtered nodes are not counted as failures.
	IDPrefix string  `mapstructure:"id_prefix" yaml:"id_prefix"`
	Fields   []Field `mapstructure:"fields" yaml:"fields"`
}

// Validate checks the schema before any page is fetched.
func (s ListingSchema) Validate() error {
	if strings.TrimSpace(s.CandidateSelector) == "" {
		return errors.New("listing.candidate_selector is required")
	}
	if err := validateSelector(s.CandidateSelector); err != nil {
		return fmt.Errorf("listing.candidate_selector: %w", err)
	}
	if len(s.Fields) == 0 {
		return errors.New("listing.fields must not be empty")
	}
	if err := validateFields(s.Fields); err != nil {
		return fmt.Errorf("listing.fields: %w", err)
	}
	for _, f := range s.Fields {
		if f.Name == crawler.DetailsKey || f.Name == crawler.CompanyInfoKey {
			return fmt.Errorf("listing.fields: field name %q is reserved for detail data", f.Name)
		}
	}
	return nil
}

// ListingExtractor implements crawler.RecordExtractor. Optional fields that
// miss become "", and a candidate that fails is skipped without affecting
// its siblings.
type ListingExtractor struct {
	schema ListingSchema
	logger *zap.Logger
}

// NewListingExtractor validates schema and builds an extractor.
func NewListingExtractor(schema ListingSchema, logger *zap.Logger) (*ListingExtractor, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ListingExtractor{schema: schema, logger: logger}, nil
}

// Extract returns one record per well-formed candidate in document order.
func (e *ListingExtractor) Extract(doc *crawler.Document) []crawler.ListingRecord {
	if doc == nil || doc.Document == nil {
		return nil
	}
	candidates := doc.Find(e.schema.CandidateSelector)
	out := make([]crawler.ListingRecord, 0, candidates.Length())
	candidates.Each(func(i int, s *goquery.Selection) {
		if !e.accepts(s) {
			return
		}
		rec, err := e.candidate(s, doc.URL)
		if err != nil {
			e.logger.Warn("candidate skipped", zap.Int("index", i), zap.Error(err))
			return
		}
		out = append(out, rec)
	})
	return out
}

func (e *ListingExtractor) accepts(s *goquery.Selection) bool {
	if e.schema.IDPrefix == "" {
		return true
	}
	id, _ := s.Attr("id")
	return strings.HasPrefix(id, e.schema.IDPrefix)
}

func (e *ListingExtractor) candidate(s *goquery.Selection, base *url.URL) (crawler.ListingRecord, error) {
	rec := make(crawler.ListingRecord, len(e.schema.Fields))
	for _, f := range e.schema.Fields {
		v, ok := f.Lookup(s)
		if !ok && f.Required {
			return nil, fmt.Errorf("%w: required field %q missing", crawler.ErrCandidateExtraction, f.Name)
		}
		v, err := f.resolve(base, v)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", crawler.ErrCandidateExtraction, err)
		}
		rec[f.Name] = v
	}
	return rec, nil
}
