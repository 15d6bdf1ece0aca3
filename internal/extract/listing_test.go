package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

const listingHTML = `
<html><body>
<div id="list">
  <div class="item" id="rec-1">
    <div class="company"><a href="/company/1">  Acme
      Corp </a></div>
    <a class="title" title="Backend Engineer" href="/view?idx=1">Backend Engineer</a>
    <div class="tags"><span>Go</span><span> </span><span>Postgres</span></div>
  </div>
  <div class="item" id="ad-slot">
    <div class="company"><a href="/ads">Sponsored</a></div>
  </div>
  <div class="item" id="rec-2">
    <div class="company"><a href="/company/2">Globex</a></div>
    <a class="title" href="/view?idx=2">Untitled</a>
  </div>
  <div class="item" id="rec-3">
    <a class="title" title="Orphan" href="/view?idx=3">Orphan</a>
  </div>
</div>
</body></html>`

func mustDoc(t *testing.T, rawURL, html string) *crawler.Document {
	t.Helper()
	doc, err := crawler.ParseDocument(rawURL, strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func jobSchema() ListingSchema {
	return ListingSchema{
		CandidateSelector: "#list > div.item",
		IDPrefix:          "rec-",
		Fields: []Field{
			{Name: "company_name", Selector: "div.company > a", Required: true},
			{Name: "company_href", Selector: "div.company > a", Attr: "href", Absolute: true},
			{Name: "job_title", Selector: "a.title", Attr: "title"},
			{Name: "job_href", Selector: "a.title", Attr: "href", Absolute: true},
			{Name: "tech_stack", Selector: "div.tags > span", Join: ", "},
		},
	}
}

func TestListingExtractorExtractsInDocumentOrder(t *testing.T) {
	t.Parallel()

	ex, err := NewListingExtractor(jobSchema(), zap.NewNop())
	require.NoError(t, err)
	doc := mustDoc(t, "https://jobs.example.com/list?page=1", listingHTML)

	got := ex.Extract(doc)

	// rec-3 lacks the required company name; ad-slot is filtered by prefix.
	require.Len(t, got, 2)
	require.Equal(t, crawler.ListingRecord{
		"company_name": "Acme Corp",
		"company_href": "https://jobs.example.com/company/1",
		"job_title":    "Backend Engineer",
		"job_href":     "https://jobs.example.com/view?idx=1",
		"tech_stack":   "Go, Postgres",
	}, got[0])
	require.Equal(t, "Globex", got[1]["company_name"])
}

func TestListingExtractorMissingOptionalFieldIsEmpty(t *testing.T) {
	t.Parallel()

	ex, err := NewListingExtractor(jobSchema(), nil)
	require.NoError(t, err)
	got := ex.Extract(mustDoc(t, "https://jobs.example.com/", listingHTML))

	second := got[1]
	title, ok := second["job_title"]
	require.True(t, ok)
	require.Empty(t, title)
	require.Equal(t, "https://jobs.example.com/view?idx=2", second["job_href"])
	tags, ok := second["tech_stack"]
	require.True(t, ok)
	require.Empty(t, tags)
}

func TestListingExtractorIsIdempotent(t *testing.T) {
	t.Parallel()

	ex, err := NewListingExtractor(jobSchema(), nil)
	require.NoError(t, err)
	doc := mustDoc(t, "https://jobs.example.com/", listingHTML)

	require.Equal(t, ex.Extract(doc), ex.Extract(doc))
}

func TestListingExtractorSkipsOnlyFailingCandidate(t *testing.T) {
	t.Parallel()

	schema := ListingSchema{
		CandidateSelector: "li",
		Fields: []Field{
			{Name: "title", Selector: "b", Required: true},
			{Name: "link", Selector: "a", Attr: "href", Absolute: true},
		},
	}
	ex, err := NewListingExtractor(schema, nil)
	require.NoError(t, err)
	html := `<ul>
	  <li><b>one</b><a href="/1">x</a></li>
	  <li><b>two</b><a href="%zz">x</a></li>
	  <li><b>three</b></li>
	</ul>`

	got := ex.Extract(mustDoc(t, "https://example.com/", html))

	require.Len(t, got, 2)
	require.Equal(t, "one", got[0]["title"])
	require.Equal(t, "three", got[1]["title"])
	require.Empty(t, got[1]["link"])
}

func TestListingExtractorNoCandidates(t *testing.T) {
	t.Parallel()

	ex, err := NewListingExtractor(jobSchema(), nil)
	require.NoError(t, err)

	require.Empty(t, ex.Extract(mustDoc(t, "https://example.com/", "<p>nothing here</p>")))
	require.Empty(t, ex.Extract(nil))
}

func TestListingExtractorNormalizesText(t *testing.T) {
	t.Parallel()

	schema := ListingSchema{
		CandidateSelector: "p",
		Fields:            []Field{{Name: "company"}},
	}
	ex, err := NewListingExtractor(schema, nil)
	require.NoError(t, err)
	// "사람인" spelled with conjoining jamo.
	decomposed := "\u1109\u1161\u1105\u1161\u11b7인"

	got := ex.Extract(mustDoc(t, "https://example.com/", "<p>  "+decomposed+"\n</p>"))

	require.Len(t, got, 1)
	require.Equal(t, "\uc0ac\ub78c\uc778", got[0]["company"])
}

func TestListingSchemaValidate(t *testing.T) {
	t.Parallel()

	require.Error(t, ListingSchema{}.Validate())
	require.Error(t, ListingSchema{CandidateSelector: "li"}.Validate())
	require.Error(t, ListingSchema{CandidateSelector: "li[", Fields: []Field{{Name: "a"}}}.Validate())
	require.Error(t, ListingSchema{CandidateSelector: "li", Fields: []Field{{Name: ""}}}.Validate())
	require.Error(t, ListingSchema{CandidateSelector: "li", Fields: []Field{{Name: "a"}, {Name: "a"}}}.Validate())
	require.Error(t, ListingSchema{CandidateSelector: "li", Fields: []Field{{Name: "a", Selector: "a["}}}.Validate())
	require.NoError(t, jobSchema().Validate())
}

func TestListingSchemaRejectsDetailKeys(t *testing.T) {
	t.Parallel()

	for _, name := range []string{crawler.DetailsKey, crawler.CompanyInfoKey} {
		schema := jobSchema()
		schema.Fields = append(schema.Fields, Field{Name: name, Selector: "a.title"})

		err := schema.Validate()
		require.ErrorContains(t, err, "reserved")
		require.ErrorContains(t, err, name)

		_, err = NewListingExtractor(schema, zap.NewNop())
		require.Error(t, err)
	}
}
