package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

const detailHTML = `
<div id="content">
  <section class="job">
    <h1 class="title">Backend Engineer</h1>
    <dl class="summary"><dt>경력</dt><dd> 신입 · 경력 </dd></dl>
    <dl class="salary"><dt>급여</dt><dd>회사내규</dd></dl>
    <a class="apply" href="/apply/7">apply</a>
    <div class="company">
      <dl><dt>업종</dt><dd>소프트웨어</dd></dl>
      <dl><dt>사원수</dt><dd>120명</dd></dl>
      <dl><dt> </dt><dd>blank key</dd></dl>
      <dl><dt>only key</dt></dl>
      <dl><dt>업종</dt><dd>IT</dd></dl>
    </div>
  </section>
</div>`

func detailSchema() DetailSchema {
	return DetailSchema{
		ReadySelector: "#content > section.job",
		Fields: []Field{
			{Name: "제목", Selector: "h1.title"},
			{Name: "경력", Selector: "dl.summary > dd"},
			{Name: "급여", Selector: "dl.salary > dd"},
			{Name: "지원", Selector: "a.apply", Attr: "href", Absolute: true},
		},
		CompanyInfo: CompanyInfoSpec{
			ItemSelector:  "div.company > dl",
			KeySelector:   "dt",
			ValueSelector: "dd",
		},
	}
}

func TestDetailExtractReadsFieldsAndPairs(t *testing.T) {
	t.Parallel()

	e, err := NewDetailEnricher(detailSchema(), nil)
	require.NoError(t, err)

	got, err := e.Extract(mustDoc(t, "https://jobs.example.com/view?idx=7", detailHTML))

	require.NoError(t, err)
	require.Equal(t, map[string]string{
		"제목": "Backend Engineer",
		"경력": "신입 · 경력",
		"급여": "회사내규",
		"지원": "https://jobs.example.com/apply/7",
	}, got.Details)
	require.Equal(t, map[string]string{
		"업종":  "IT",
		"사원수": "120명",
	}, got.CompanyInfo)
}

func TestDetailExtractMissingFieldFailsRecord(t *testing.T) {
	t.Parallel()

	schema := detailSchema()
	schema.Fields = append(schema.Fields, Field{Name: "근무지역", Selector: "dl.location > dd"})
	e, err := NewDetailEnricher(schema, nil)
	require.NoError(t, err)

	_, err = e.Extract(mustDoc(t, "https://jobs.example.com/view?idx=7", detailHTML))

	require.ErrorIs(t, err, crawler.ErrDetailExtraction)
	require.ErrorContains(t, err, "근무지역")
}

func TestDetailExtractMissingScopeFails(t *testing.T) {
	t.Parallel()

	e, err := NewDetailEnricher(detailSchema(), nil)
	require.NoError(t, err)

	_, err = e.Extract(mustDoc(t, "https://jobs.example.com/", "<p>removed</p>"))
	require.ErrorIs(t, err, crawler.ErrDetailExtraction)

	_, err = e.Extract(nil)
	require.ErrorIs(t, err, crawler.ErrDetailExtraction)
}

func TestDetailExtractWithoutCompanyBlock(t *testing.T) {
	t.Parallel()

	e, err := NewDetailEnricher(detailSchema(), nil)
	require.NoError(t, err)
	html := strings.Replace(detailHTML, `class="company"`, `class="other"`, 1)

	got, err := e.Extract(mustDoc(t, "https://jobs.example.com/", html))

	require.NoError(t, err)
	require.NotNil(t, got.CompanyInfo)
	require.Empty(t, got.CompanyInfo)
}

type stubFetcher struct {
	html  string
	err   error
	ready string
}

func (s *stubFetcher) Fetch(_ context.Context, rawURL string, ready string) (*crawler.Document, error) {
	s.ready = ready
	if s.err != nil {
		return nil, s.err
	}
	return crawler.ParseDocument(rawURL, strings.NewReader(s.html))
}

func TestDetailEnricherWaitsForReadySelector(t *testing.T) {
	t.Parallel()

	e, err := NewDetailEnricher(detailSchema(), nil)
	require.NoError(t, err)
	fetcher := &stubFetcher{html: detailHTML}

	got, err := e.Enrich(context.Background(), fetcher, "https://jobs.example.com/view?idx=7")

	require.NoError(t, err)
	require.Equal(t, "#content > section.job", fetcher.ready)
	require.Equal(t, "Backend Engineer", got.Details["제목"])
}

func TestDetailEnricherPassesNavigationErrorsThrough(t *testing.T) {
	t.Parallel()

	e, err := NewDetailEnricher(detailSchema(), nil)
	require.NoError(t, err)
	fetcher := &stubFetcher{err: fmt.Errorf("%w: 10s elapsed", crawler.ErrNavigationTimeout)}

	_, err = e.Enrich(context.Background(), fetcher, "https://jobs.example.com/view?idx=7")

	require.True(t, errors.Is(err, crawler.ErrNavigationTimeout))
}

func TestDetailSchemaValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, detailSchema().Validate())

	noReady := detailSchema()
	noReady.ReadySelector = ""
	require.Error(t, noReady.Validate())

	noFields := detailSchema()
	noFields.Fields = nil
	require.Error(t, noFields.Validate())

	halfPairs := detailSchema()
	halfPairs.CompanyInfo.ValueSelector = ""
	require.Error(t, halfPairs.Validate())

	badScope := detailSchema()
	badScope.ScopeSelector = "section["
	require.Error(t, badScope.Validate())
}
