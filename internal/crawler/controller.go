package crawler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Throttle phases reported to the Observer.
const (
	PhaseListing = "listing"
	PhaseDetail  = "detail"
)

// Components are the collaborators a Controller drives. Publisher, Observer,
// Clock and IDs are optional.
type Components struct {
	Opener    SessionOpener
	Extractor RecordExtractor
	Enricher  DetailEnricher
	Sink      Sink
	PageDelay Delayer
	ItemDelay Delayer
	Publisher Publisher
	Observer  Observer
	Clock     Clock
	IDs       IDGenerator
}

// Controller orchestrates listing pagination and detail enrichment. It is
// strictly sequential: one navigation is in flight at a time.
type Controller struct {
	cfg       Config
	opener    SessionOpener
	extractor RecordExtractor
	enricher  DetailEnricher
	sink      Sink
	pageDelay Delayer
	itemDelay Delayer
	publisher Publisher
	observer  Observer
	clock     Clock
	ids       IDGenerator
	logger    *zap.Logger
}

// NewController wires a Controller.
func NewController(cfg Config, deps Components, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{
		cfg:       cfg,
		opener:    deps.Opener,
		extractor: deps.Extractor,
		enricher:  deps.Enricher,
		sink:      deps.Sink,
		pageDelay: deps.PageDelay,
		itemDelay: deps.ItemDelay,
		publisher: deps.Publisher,
		observer:  deps.Observer,
		clock:     deps.Clock,
		ids:       deps.IDs,
		logger:    logger,
	}
	if c.pageDelay == nil {
		c.pageDelay = noDelay{}
	}
	if c.itemDelay == nil {
		c.itemDelay = noDelay{}
	}
	if c.observer == nil {
		c.observer = noopObserver{}
	}
	if c.clock == nil {
		c.clock = utcClock{}
	}
	return c
}

// Run opens the session, runs both phases, hands the result to the sink and
// releases the session on every exit path. Only session acquisition and sink
// failures are returned; fetch failures shorten the output instead.
func (c *Controller) Run(ctx context.Context) (Summary, error) {
	summary := Summary{StartedAt: c.clock.Now()}
	runID, err := c.newRunID()
	if err != nil {
		return summary, err
	}
	summary.RunID = runID
	logger := c.logger.With(zap.String("run_id", runID))

	session, err := c.opener.Open(ctx)
	if err != nil {
		return summary, fmt.Errorf("%w: %w", ErrResourceAcquisition, err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			logger.Warn("session close failed", zap.Error(cerr))
		}
	}()

	listings, stats := c.collect(ctx, session, c.cfg.TargetCount, c.cfg.ListingURLTemplate)
	summary.PagesVisited = stats.pages
	summary.ListingsCollected = len(listings)
	summary.StoppedBy = stats.stoppedBy

	var records []DetailRecord
	if c.cfg.Enrich {
		var attempted int
		records, attempted = c.enrichAll(ctx, session, listings)
		summary.DetailsEnriched = len(records)
		// Records left unvisited by a cancel are not failures.
		summary.DetailsFailed = attempted - len(records)
	} else {
		records = ListingOnly(listings)
	}

	// Partial results from a canceled crawl are still persisted.
	outCtx := context.WithoutCancel(ctx)
	uri, err := c.sink.Write(outCtx, Batch{RunID: runID, CreatedAt: summary.StartedAt, Records: records})
	if err != nil {
		return summary, fmt.Errorf("write records: %w", err)
	}
	summary.OutputURI = uri
	summary.FinishedAt = c.clock.Now()

	logger.Info("crawl finished",
		zap.Int("pages", summary.PagesVisited),
		zap.Int("listings", summary.ListingsCollected),
		zap.Int("enriched", summary.DetailsEnriched),
		zap.Int("detail_failures", summary.DetailsFailed),
		zap.String("stopped_by", string(summary.StoppedBy)),
		zap.String("output", uri),
	)
	c.publish(outCtx, summary, logger)
	return summary, nil
}

// CollectListings pages through pageURLTemplate until targetCount records are
// accumulated or a fetch fails, and returns at most targetCount records in
// discovery order.
func (c *Controller) CollectListings(
	ctx context.Context,
	fetcher PageFetcher,
	targetCount int,
	pageURLTemplate string,
) []ListingRecord {
	records, _ := c.collect(ctx, fetcher, targetCount, pageURLTemplate)
	return records
}

type collectStats struct {
	pages     int
	stoppedBy StopReason
}

func (c *Controller) collect(
	ctx context.Context,
	fetcher PageFetcher,
	targetCount int,
	pageURLTemplate string,
) ([]ListingRecord, collectStats) {
	state := newCrawlState(targetCount)
	stats := collectStats{stoppedBy: StopTargetReached}

	for !state.full() {
		if c.cfg.MaxPages > 0 && state.page > c.cfg.MaxPages {
			c.logger.Warn("page ceiling reached", zap.Int("max_pages", c.cfg.MaxPages))
			stats.stoppedBy = StopMaxPages
			break
		}
		if ctx.Err() != nil {
			c.logger.Warn("listing collection canceled", zap.Error(ctx.Err()))
			stats.stoppedBy = StopCanceled
			break
		}

		pageURL := PageURL(pageURLTemplate, state.page)
		doc, err := fetcher.Fetch(ctx, pageURL, c.cfg.ListingReadySelector)
		if err != nil {
			c.logger.Error("listing page fetch failed; keeping partial results",
				zap.Int("page", state.page),
				zap.String("url", pageURL),
				zap.String("kind", ErrorKind(err)),
				zap.Error(err),
			)
			c.observer.PageFailed(err)
			stats.stoppedBy = StopFetchError
			break
		}
		stats.pages++

		found := c.extractor.Extract(doc)
		kept := state.add(found)
		c.observer.PageFetched(kept)
		c.logger.Info("page fetched",
			zap.Int("page", state.page),
			zap.Int("found", len(found)),
			zap.Int("total", len(state.records)),
		)

		c.observer.Throttled(PhaseListing, c.pageDelay.Wait(ctx))
		state.advance()
	}
	return state.records, stats
}

// EnrichAll visits each record's detail page in order. A record whose detail
// fetch or extraction fails is logged and dropped; survivors keep their
// relative order.
func (c *Controller) EnrichAll(ctx context.Context, fetcher PageFetcher, records []ListingRecord) []DetailRecord {
	out, _ := c.enrichAll(ctx, fetcher, records)
	return out
}

// enrichAll also reports how many records were visited before ctx ended.
func (c *Controller) enrichAll(ctx context.Context, fetcher PageFetcher, records []ListingRecord) ([]DetailRecord, int) {
	out := make([]DetailRecord, 0, len(records))
	attempted := 0
	for i, rec := range records {
		if ctx.Err() != nil {
			c.logger.Warn("detail enrichment canceled",
				zap.Int("remaining", len(records)-i),
				zap.Error(ctx.Err()),
			)
			break
		}
		attempted++
		detail, err := c.enrichOne(ctx, fetcher, rec)
		if err != nil {
			c.logger.Warn("detail skipped",
				zap.Int("index", i),
				zap.String("kind", ErrorKind(err)),
				zap.Error(err),
			)
			c.observer.DetailFailed(err)
		} else {
			out = append(out, DetailRecord{
				Listing:     rec.Clone(),
				Details:     detail.Details,
				CompanyInfo: nonNil(detail.CompanyInfo),
			})
			c.observer.DetailEnriched()
		}
		c.observer.Throttled(PhaseDetail, c.itemDelay.Wait(ctx))
	}
	c.logger.Info("detail enrichment done",
		zap.Int("enriched", len(out)),
		zap.Int("failed", attempted-len(out)),
		zap.Int("unvisited", len(records)-attempted),
	)
	return out, attempted
}

func (c *Controller) enrichOne(ctx context.Context, fetcher PageFetcher, rec ListingRecord) (Detail, error) {
	detailURL, err := c.cfg.Detail.Resolve(rec)
	if err != nil {
		return Detail{}, fmt.Errorf("%w: %w", ErrDetailExtraction, err)
	}
	detail, err := c.enricher.Enrich(ctx, fetcher, detailURL)
	if err != nil {
		return Detail{}, fmt.Errorf("enrich %s: %w", detailURL, err)
	}
	if detail.Details == nil {
		detail.Details = map[string]string{}
	}
	return detail, nil
}

func (c *Controller) newRunID() (string, error) {
	if c.ids == nil {
		return c.clock.Now().Format("20060102T150405Z"), nil
	}
	id, err := c.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	return id, nil
}

func (c *Controller) publish(ctx context.Context, summary Summary, logger *zap.Logger) {
	if c.publisher == nil {
		return
	}
	attrs := map[string]string{
		"run_id":     summary.RunID,
		"stopped_by": string(summary.StoppedBy),
	}
	msgID, err := c.publisher.Publish(ctx, summary, attrs)
	if err != nil {
		logger.Warn("publish summary failed", zap.Error(err))
		return
	}
	logger.Debug("summary published", zap.String("message_id", msgID))
}

type noDelay struct{}

func (noDelay) Wait(context.Context) time.Duration { return 0 }

type noopObserver struct{}

func (noopObserver) PageFetched(int)                 {}
func (noopObserver) PageFailed(error)                {}
func (noopObserver) DetailEnriched()                 {}
func (noopObserver) DetailFailed(error)              {}
func (noopObserver) Throttled(string, time.Duration) {}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }
