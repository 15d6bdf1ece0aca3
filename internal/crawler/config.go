package crawler

import (
	"errors"
	"fmt"
	"strings"
)

// Config holds the settings for one crawl run. It is decoupled from Viper so
// the controller can be configured directly in tests.
type Config struct {
	// TargetCount caps the number of listing records collected.
	TargetCount int
	// ListingURLTemplate contains a {page} placeholder.
	ListingURLTemplate string
	// ListingReadySelector is the landmark awaited on every listing page.
	ListingReadySelector string
	// MaxPages is an optional pagination ceiling. Zero leaves the loop bounded
	// only by TargetCount and fetch failures, which is the default: a source
	// that never errors and never fills the cap is paged indefinitely.
	MaxPages int
	// Enrich turns on the detail phase.
	Enrich bool
	// Detail resolves detail URLs from listing records.
	Detail DetailLink
	// Name prefixes output objects.
	Name string
}

// Validate checks for obviously bad configuration combinations.
func (c Config) Validate() error {
	if c.TargetCount < 0 {
		return errors.New("crawl.target_count must be >= 0")
	}
	if !strings.Contains(c.ListingURLTemplate, PagePlaceholder) {
		return fmt.Errorf("crawl.listing_url_template must contain %s", PagePlaceholder)
	}
	if c.MaxPages < 0 {
		return errors.New("crawl.max_pages must be >= 0")
	}
	if c.Enrich {
		if c.Detail.URLTemplate == "" && c.Detail.LinkField == "" {
			return errors.New("detail.link_field or detail.url_template is required when enrichment is on")
		}
		if c.Detail.URLTemplate != "" {
			if !strings.Contains(c.Detail.URLTemplate, IDPlaceholder) {
				return fmt.Errorf("detail.url_template must contain %s", IDPlaceholder)
			}
			if c.Detail.IDField == "" {
				return errors.New("detail.id_field is required with detail.url_template")
			}
		}
	}
	return nil
}
