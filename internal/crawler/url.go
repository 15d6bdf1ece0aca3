package crawler

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Template placeholders.
const (
	PagePlaceholder = "{page}"
	IDPlaceholder   = "{id}"
)

// PageURL substitutes the 1-based page index into template.
func PageURL(template string, page int) string {
	return strings.ReplaceAll(template, PagePlaceholder, strconv.Itoa(page))
}

// DetailLink says how a listing record points at its detail page.
type DetailLink struct {
	// LinkField names the record field holding the detail URL.
	LinkField string
	// URLTemplate, when set, builds the URL from IDField instead.
	URLTemplate string
	IDField     string
}

// Resolve returns the detail URL for rec.
func (l DetailLink) Resolve(rec ListingRecord) (string, error) {
	raw := ""
	if l.URLTemplate != "" {
		id := strings.TrimSpace(rec[l.IDField])
		if id == "" {
			return "", fmt.Errorf("record has no %q id", l.IDField)
		}
		raw = strings.ReplaceAll(l.URLTemplate, IDPlaceholder, url.QueryEscape(id))
	} else {
		raw = strings.TrimSpace(rec[l.LinkField])
	}
	if raw == "" {
		return "", errors.New("record has no detail link")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse detail link: %w", err)
	}
	if !u.IsAbs() {
		return "", fmt.Errorf("detail link %q is not absolute", raw)
	}
	return u.String(), nil
}
