// Package extract turns loaded documents into listing records and detail data
// using CSS selectors.
package extract

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/text/unicode/norm"
)

// Field describes one named value located under a candidate or detail scope.
type Field struct {
	Name string `mapstructure:"name" yaml:"name"`
	// Selector is relative to the scope. Empty means the scope node itself.
	Selector string `mapstructure:"selector" yaml:"selector"`
	// Attr reads an attribute instead of the node text.
	Attr string `mapstructure:"attr" yaml:"attr"`
	// Required turns a listing miss into a candidate failure. Detail fields
	// are always required.
	Required bool `mapstructure:"required" yaml:"required"`
	// Absolute resolves the value against the document URL.
	Absolute bool `mapstructure:"absolute" yaml:"absolute"`
	// Join concatenates every match with this separator instead of reading
	// only the first.
	Join string `mapstructure:"join" yaml:"join"`
}

// Validate checks the field name and compiles its selector.
func (f Field) Validate() error {
	if strings.TrimSpace(f.Name) == "" {
		return errors.New("field name is required")
	}
	if f.Selector != "" {
		if err := validateSelector(f.Selector); err != nil {
			return fmt.Errorf("field %q: %w", f.Name, err)
		}
	}
	return nil
}

// Lookup returns the field value under scope and whether any node matched.
// A miss is not an error; callers decide whether it matters.
func (f Field) Lookup(scope *goquery.Selection) (string, bool) {
	sel := scope
	if f.Selector != "" {
		sel = scope.Find(f.Selector)
	}
	if sel.Length() == 0 {
		return "", false
	}
	if f.Join == "" {
		return f.read(sel.First())
	}
	parts := make([]string, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		if v, ok := f.read(s); ok && v != "" {
			parts = append(parts, v)
		}
	})
	return strings.Join(parts, f.Join), true
}

func (f Field) read(s *goquery.Selection) (string, bool) {
	if f.Attr == "" {
		return CleanText(s.Text()), true
	}
	v, ok := s.Attr(f.Attr)
	if !ok {
		return "", false
	}
	return CleanText(v), true
}

// resolve makes v absolute against base when the field asks for it.
func (f Field) resolve(base *url.URL, v string) (string, error) {
	if !f.Absolute || v == "" {
		return v, nil
	}
	ref, err := url.Parse(v)
	if err != nil {
		return "", fmt.Errorf("field %q: %w", f.Name, err)
	}
	if base == nil {
		return ref.String(), nil
	}
	return base.ResolveReference(ref).String(), nil
}

// CleanText trims, collapses inner whitespace and NFC-normalizes s so that
// decomposed Hangul and other scripts compare equal across pages.
func CleanText(s string) string {
	return norm.NFC.String(strings.Join(strings.Fields(s), " "))
}

func validateSelector(sel string) error {
	if _, err := cascadia.Compile(sel); err != nil {
		return fmt.Errorf("invalid selector %q: %w", sel, err)
	}
	return nil
}

func validateFields(fields []Field) error {
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if err := f.Validate(); err != nil {
			return err
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("duplicate field %q", f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	return nil
}
