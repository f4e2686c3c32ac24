package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/heimdex/heimdex-tagger/internal/catalog"
	"github.com/heimdex/heimdex-tagger/internal/cloud"
	"github.com/heimdex/heimdex-tagger/internal/logging"
)

var (
	// ErrPaused is returned by Trigger while the runner is paused.
	ErrPaused = errors.New("enrichment runner paused")
	// ErrStopped is returned by Trigger once the runner's context is done.
	ErrStopped = errors.New("enrichment runner stopped")
)

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	IndexID  string
	PageSize int
	// PollInterval is how often the runner reloads the current page and
	// enriches it. Zero disables polling; batches then only start on Trigger.
	PollInterval time.Duration
}

// PageView is one loaded listing page merged into the display collection.
type PageView struct {
	Page         int                   `json:"page"`
	TotalPages   int                   `json:"total_pages"`
	TotalResults int                   `json:"total_results"`
	Items        []catalog.DisplayItem `json:"items"`
}

// Runner loads listing pages into the display collection and starts
// enrichment batches over them, either on a ticker or on demand.
type Runner struct {
	scheduler  *Scheduler
	lister     cloud.VideoLister
	status     cloud.StatusSource
	collection *catalog.Collection
	opts       RunnerOptions
	logger     *slog.Logger

	running atomic.Bool
	paused  atomic.Bool
	page    atomic.Int64

	mu      sync.Mutex
	baseCtx context.Context
	stopped bool
	wg      sync.WaitGroup
}

// NewRunner wires a runner. status may be nil, in which case statuses stay
// unknown and never block eligibility.
func NewRunner(scheduler *Scheduler, lister cloud.VideoLister, status cloud.StatusSource, collection *catalog.Collection, opts RunnerOptions, logger *slog.Logger) *Runner {
	r := &Runner{
		scheduler:  scheduler,
		lister:     lister,
		status:     status,
		collection: collection,
		opts:       opts,
		logger:     logging.WithComponent(logging.OrDiscard(logger), "runner"),
		baseCtx:    context.Background(),
	}
	r.page.Store(1)
	return r
}

// Start runs the poll loop until ctx is cancelled. Background batches
// started by Trigger use ctx too, so cancelling it aborts them.
func (r *Runner) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}

	r.mu.Lock()
	r.baseCtx = ctx
	r.stopped = false
	r.mu.Unlock()

	r.logger.Info("enrichment runner started", "poll_interval", r.opts.PollInterval)

	var tick <-chan time.Time
	if r.opts.PollInterval > 0 {
		ticker := time.NewTicker(r.opts.PollInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("enrichment runner stopping")
			// Trigger only adds to wg under mu while stopped is false.
			r.mu.Lock()
			r.stopped = true
			r.mu.Unlock()
			r.wg.Wait()
			r.running.Store(false)
			return
		case <-tick:
			if !r.paused.Load() {
				r.poll(ctx)
			}
		}
	}
}

func (r *Runner) poll(ctx context.Context) {
	if _, err := r.LoadPage(ctx, r.CurrentPage()); err != nil {
		r.logger.Error("failed to refresh page", "page", r.CurrentPage(), "error", err)
		return
	}

	_, err := r.RunOnce(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrBatchRunning), errors.Is(err, ErrCoolingDown):
		r.logger.Debug("skipping poll batch", "reason", err)
	default:
		r.logger.Warn("poll batch ended with error", "error", err)
	}
}

func (r *Runner) Pause() {
	r.paused.Store(true)
	r.logger.Info("enrichment runner paused")
}

func (r *Runner) Resume() {
	r.paused.Store(false)
	r.logger.Info("enrichment runner resumed")
}

func (r *Runner) IsPaused() bool {
	return r.paused.Load()
}

func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

// CurrentPage returns the page most recently loaded.
func (r *Runner) CurrentPage() int {
	return int(r.page.Load())
}

func (r *Runner) Collection() *catalog.Collection {
	return r.collection
}

func (r *Runner) Scheduler() *Scheduler {
	return r.scheduler
}

// LoadPage fetches a listing page, resolves unknown ingestion statuses and
// merges the page into the display collection.
func (r *Runner) LoadPage(ctx context.Context, page int) (*PageView, error) {
	if page < 1 {
		page = 1
	}

	listed, err := r.lister.ListVideos(ctx, r.opts.IndexID, page, r.opts.PageSize)
	if err != nil {
		return nil, fmt.Errorf("list videos page %d: %w", page, err)
	}

	records := append([]catalog.VideoRecord(nil), listed.Videos...)
	r.resolveStatuses(ctx, records)

	items := r.collection.Merge(records)
	r.page.Store(int64(page))

	r.logger.Debug("page loaded", "page", page, "videos", len(records))
	return &PageView{
		Page:         page,
		TotalPages:   listed.TotalPages,
		TotalResults: listed.TotalResults,
		Items:        items,
	}, nil
}

func (r *Runner) resolveStatuses(ctx context.Context, records []catalog.VideoRecord) {
	if r.status == nil {
		return
	}

	var g errgroup.Group
	g.SetLimit(r.scheduler.Options().Concurrency)
	for i := range records {
		if records[i].Status != "" {
			continue
		}
		g.Go(func() error {
			status, err := r.status.VideoStatus(ctx, r.opts.IndexID, records[i].ID)
			if err != nil {
				r.logger.Warn("status lookup failed", "video_id", records[i].ID, "error", err)
				return nil
			}
			records[i].Status = status
			return nil
		})
	}
	_ = g.Wait()
}

// RunOnce runs one batch over the collection's records and waits for it.
func (r *Runner) RunOnce(ctx context.Context) (Summary, error) {
	return r.scheduler.Run(ctx, r.collection.Records())
}

// Trigger starts a batch over the collection in the background. It returns
// an error without starting anything when the runner is paused, stopped or
// the scheduler is busy.
func (r *Runner) Trigger() error {
	if r.paused.Load() {
		return ErrPaused
	}
	switch r.scheduler.State() {
	case Running:
		return ErrBatchRunning
	case CoolingDown:
		return ErrCoolingDown
	}

	r.mu.Lock()
	ctx := r.baseCtx
	if r.stopped || ctx.Err() != nil {
		r.mu.Unlock()
		return ErrStopped
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		summary, err := r.RunOnce(ctx)
		switch {
		case err == nil:
			r.logger.Debug("triggered batch finished", "batch_id", summary.BatchID, "enriched", summary.Enriched)
		case errors.Is(err, ErrBatchRunning), errors.Is(err, ErrCoolingDown):
			r.logger.Debug("triggered batch refused", "reason", err)
		default:
			r.logger.Warn("triggered batch ended with error", "error", err)
		}
	}()
	return nil
}

type statusInvalidator interface {
	Invalidate(indexID, videoID string)
}

// Retry makes videoID eligible again and drops any cached ingestion status
// for it. It returns false while the video is queued or in flight.
func (r *Runner) Retry(videoID string) bool {
	if !r.scheduler.Tracker().Forget(videoID) {
		return false
	}
	if inv, ok := r.status.(statusInvalidator); ok {
		inv.Invalidate(r.opts.IndexID, videoID)
	}
	r.logger.Info("video reset for enrichment", "video_id", videoID)
	return true
}

// Wait blocks until every triggered batch has returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}
