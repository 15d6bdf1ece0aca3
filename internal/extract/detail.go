package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// CompanyInfoSpec locates the variable-length key/value block on a detail page.
type CompanyInfoSpec struct {
	ItemSelector  string `mapstructure:"item_selector" yaml:"item_selector"`
	KeySelector   string `mapstructure:"key_selector" yaml:"key_selector"`
	ValueSelector string `mapstructure:"value_selector" yaml:"value_selector"`
}

// DetailSchema describes a detail page. Every field is mandatory.
type DetailSchema struct {
	ReadySelector string `mapstructure:"ready_selector" yaml:"ready_selector"`
	// ScopeSelector bounds field lookups; it defaults to ReadySelector.
	ScopeSelector string          `mapstructure:"scope_selector" yaml:"scope_selector"`
	Fields        []Field         `mapstructure:"fields" yaml:"fields"`
	CompanyInfo   CompanyInfoSpec `mapstructure:"company_info" yaml:"company_info"`
}

// Validate checks the schema before any page is fetched.
func (s DetailSchema) Validate() error {
	if strings.TrimSpace(s.ReadySelector) == "" {
		return errors.New("detail.ready_selector is required")
	}
	for _, sel := range []string{
		s.ReadySelector,
		s.ScopeSelector,
		s.CompanyInfo.ItemSelector,
		s.CompanyInfo.KeySelector,
		s.CompanyInfo.ValueSelector,
	} {
		if sel == "" {
			continue
		}
		if err := validateSelector(sel); err != nil {
			return fmt.Errorf("detail: %w", err)
		}
	}
	if len(s.Fields) == 0 {
		return errors.New("detail.fields must not be empty")
	}
	if err := validateFields(s.Fields); err != nil {
		return fmt.Errorf("detail.fields: %w", err)
	}
	if s.CompanyInfo.ItemSelector != "" && (s.CompanyInfo.KeySelector == "" || s.CompanyInfo.ValueSelector == "") {
		return errors.New("detail.company_info needs key_selector and value_selector")
	}
	return nil
}

func (s DetailSchema) scope() string {
	if s.ScopeSelector != "" {
		return s.ScopeSelector
	}
	return s.ReadySelector
}

// DetailEnricher implements crawler.DetailEnricher. Unlike listing fields,
// detail fields are strict: one miss fails the whole record.
type DetailEnricher struct {
	schema DetailSchema
	logger *zap.Logger
}

// NewDetailEnricher validates schema and builds an enricher.
func NewDetailEnricher(schema DetailSchema, logger *zap.Logger) (*DetailEnricher, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DetailEnricher{schema: schema, logger: logger}, nil
}

// Enrich fetches detailURL through fetcher and extracts it. Navigation errors
// are returned unchanged so their kind survives.
func (e *DetailEnricher) Enrich(ctx context.Context, fetcher crawler.PageFetcher, detailURL string) (crawler.Detail, error) {
	doc, err := fetcher.Fetch(ctx, detailURL, e.schema.ReadySelector)
	if err != nil {
		return crawler.Detail{}, err
	}
	return e.Extract(doc)
}

// Extract reads the mandatory fields and the company-info pairs from doc.
func (e *DetailEnricher) Extract(doc *crawler.Document) (crawler.Detail, error) {
	if doc == nil || doc.Document == nil {
		return crawler.Detail{}, fmt.Errorf("%w: empty document", crawler.ErrDetailExtraction)
	}
	scope := doc.Find(e.schema.scope()).First()
	if scope.Length() == 0 {
		return crawler.Detail{}, fmt.Errorf("%w: scope %q not found", crawler.ErrDetailExtraction, e.schema.scope())
	}

	details := make(map[string]string, len(e.schema.Fields))
	for _, f := range e.schema.Fields {
		v, ok := f.Lookup(scope)
		if !ok {
			return crawler.Detail{}, fmt.Errorf("%w: field %q missing", crawler.ErrDetailExtraction, f.Name)
		}
		v, err := f.resolve(doc.URL, v)
		if err != nil {
			return crawler.Detail{}, fmt.Errorf("%w: %w", crawler.ErrDetailExtraction, err)
		}
		details[f.Name] = v
	}

	return crawler.Detail{
		Details:     details,
		CompanyInfo: e.companyInfo(scope),
	}, nil
}

// companyInfo collects 0..K pairs. A pair whose key or value node is missing,
// or whose key is blank, is left out; later duplicates overwrite earlier ones.
func (e *DetailEnricher) companyInfo(scope *goquery.Selection) map[string]string {
	info := map[string]string{}
	spec := e.schema.CompanyInfo
	if spec.ItemSelector == "" {
		return info
	}
	scope.Find(spec.ItemSelector).Each(func(i int, item *goquery.Selection) {
		key := item.Find(spec.KeySelector).First()
		value := item.Find(spec.ValueSelector).First()
		if key.Length() == 0 || value.Length() == 0 {
			e.logger.Debug("company info pair dropped", zap.Int("index", i))
			return
		}
		k := CleanText(key.Text())
		if k == "" {
			return
		}
		info[k] = CleanText(value.Text())
	})
	return info
}
