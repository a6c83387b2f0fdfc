package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-shirts/config"
	"github.com/aluiziolira/go-scrape-shirts/models"
	"github.com/aluiziolira/go-scrape-shirts/scraper"
)

// Fetcher discovers item references and fetches one item per reference.
type Fetcher interface {
	ListAllItems(ctx context.Context) ([]string, error)
	FetchItem(ctx context.Context, ref string) (*models.Item, error)
}

// OutputWriter defines the interface for data output.
type OutputWriter interface {
	Write(ctx context.Context, items []*models.Item) error
	Close() error
}

// Pipeline lists the catalog, fetches every item on a bounded worker pool
// and hands the collected records to the writer once.
type Pipeline struct {
	fetcher Fetcher
	writer  OutputWriter
	errLog  ErrorLogger
	metrics *scraper.Metrics

	workers int
	policy  string
	now     func() time.Time
}

// NewPipeline wires a pipeline from cfg. metrics may be nil.
func NewPipeline(fetcher Fetcher, writer OutputWriter, errLog ErrorLogger, cfg *config.Config, metrics *scraper.Metrics) *Pipeline {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	policy := cfg.FailurePolicy
	if policy == "" {
		policy = config.PolicyPartial
	}
	return &Pipeline{
		fetcher: fetcher,
		writer:  writer,
		errLog:  errLog,
		metrics: metrics,
		workers: workers,
		policy:  policy,
		now:     time.Now,
	}
}

// Run executes one listing -> fetch -> write cycle. Listing and item failures
// are logged and reported in the result; the returned error is non-nil only
// for persistence failures.
//
// Under PolicyAllOrNothing a single failed item discards the whole batch.
// Under PolicyPartial successes are written and each failure is logged.
func (p *Pipeline) Run(ctx context.Context, runID string) (*models.RunResult, error) {
	result := &models.RunResult{
		RunID:        runID,
		StartTime:    p.now(),
		Policy:       p.policy,
		ErrorsByType: make(map[string]int),
	}
	defer func() {
		result.EndTime = p.now()
	}()

	refs, err := p.fetcher.ListAllItems(ctx)
	if err != nil {
		result.ListingErr = err
		result.Aborted = true
		result.ErrorsByType[scraper.ErrorType(err)]++
		slog.Error("listing failed, nothing to fetch",
			slog.String("run_id", runID),
			slog.Any("error", err),
		)
		if logErr := p.errLog.LogError(err); logErr != nil {
			return result, logErr
		}
		return result, nil
	}
	result.Discovered = len(refs)
	slog.Info("listing complete",
		slog.String("run_id", runID),
		slog.Int("items", len(refs)),
		slog.Int("workers", min(p.workers, max(len(refs), 1))),
	)

	items := make([]*models.Item, 0, len(refs))
	for _, r := range p.fetchAll(ctx, refs) {
		if r.OK() {
			items = append(items, r.Item)
			continue
		}
		result.Failed++
		result.FailedURLs = append(result.FailedURLs, r.Ref)
		result.ErrorsByType[scraper.ErrorType(r.Err)]++
		if logErr := p.errLog.LogError(r.Err); logErr != nil {
			return result, logErr
		}
	}
	result.Fetched = len(items)

	if result.Failed > 0 && p.policy == config.PolicyAllOrNothing {
		result.Aborted = true
		slog.Error("batch discarded after item failure",
			slog.String("run_id", runID),
			slog.Int("fetched", result.Fetched),
			slog.Int("failed", result.Failed),
		)
		return result, nil
	}
	if len(items) == 0 {
		slog.Warn("no records to write", slog.String("run_id", runID))
		return result, nil
	}

	// Fetched rows are persisted even when a shutdown signal arrived mid-run.
	if err := p.writer.Write(context.WithoutCancel(ctx), items); err != nil {
		return result, err
	}
	result.Written = len(items)
	p.metrics.AddWritten(len(items))
	return result, nil
}

type job struct {
	index int
	ref   string
}

// fetchAll returns one result per reference, in reference order.
func (p *Pipeline) fetchAll(ctx context.Context, refs []string) []models.FetchResult {
	results := make([]models.FetchResult, len(refs))
	if len(refs) == 0 {
		return results
	}

	jobs := make(chan job)
	var wg sync.WaitGroup
	for i := 0; i < min(p.workers, len(refs)); i++ {
		wg.Add(1)
		go p.worker(ctx, jobs, results, &wg)
	}

	for i, ref := range refs {
		jobs <- job{index: i, ref: ref}
	}
	close(jobs)
	wg.Wait()
	return results
}

func (p *Pipeline) worker(ctx context.Context, jobs <-chan job, results []models.FetchResult, wg *sync.WaitGroup) {
	defer wg.Done()

	for j := range jobs {
		if err := ctx.Err(); err != nil {
			results[j.index] = models.FetchResult{
				Ref: j.ref,
				Err: &scraper.TransportError{URL: j.ref, Err: err},
			}
			continue
		}

		item, err := p.fetcher.FetchItem(ctx, j.ref)
		if err != nil {
			results[j.index] = models.FetchResult{Ref: j.ref, Err: err}
			continue
		}
		slog.Debug("item fetched", slog.String("url", j.ref))
		results[j.index] = models.FetchResult{Ref: j.ref, Item: item}
	}
}
