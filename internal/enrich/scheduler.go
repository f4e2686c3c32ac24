// Package enrich schedules metadata enrichment for videos that lack it.
package enrich

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/heimdex/heimdex-tagger/internal/catalog"
	"github.com/heimdex/heimdex-tagger/internal/classify"
	"github.com/heimdex/heimdex-tagger/internal/cloud"
	"github.com/heimdex/heimdex-tagger/internal/logging"
)

const (
	DefaultConcurrency = 10
	DefaultCallTimeout = 60 * time.Second
)

var (
	// ErrBatchRunning is returned by Run while another batch is executing.
	ErrBatchRunning = errors.New("enrichment batch already running")
	// ErrCoolingDown is returned by Run during the pause after a batch.
	ErrCoolingDown = errors.New("enrichment is cooling down")
)

// Batch results reported to the Observer.
const (
	BatchCompleted = "completed"
	BatchCancelled = "cancelled"
	BatchPanicked  = "panicked"
	BatchRejected  = "rejected"
)

// BatchState is the scheduler's batch guard state.
type BatchState int

const (
	Idle BatchState = iota
	Running
	CoolingDown
)

func (s BatchState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case CoolingDown:
		return "cooling_down"
	}
	return "unknown"
}

// Journal records per-video attempts. catalog.Repository implements it.
type Journal interface {
	BeginAttempt(ctx context.Context, videoID, batchID string) (int64, error)
	FinishAttempt(ctx context.Context, id int64, outcome, errMsg string) error
	RecordAttempt(ctx context.Context, videoID, batchID, outcome, errMsg string) error
}

// Sink receives successful enrichment results. catalog.Collection
// implements it.
type Sink interface {
	Apply(id string, md catalog.Metadata) bool
}

// Observer is notified of per-video and per-batch outcomes.
type Observer interface {
	ObserveVideo(outcome string, d time.Duration)
	ObserveBatch(result string)
}

// Options configures a Scheduler. Zero Concurrency and CallTimeout fall
// back to defaults; a zero Cooldown lets the next batch start immediately.
type Options struct {
	Concurrency int
	Cooldown    time.Duration
	CallTimeout time.Duration
	IndexID     string
	Eligibility Eligibility
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.Cooldown < 0 {
		o.Cooldown = 0
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = DefaultCallTimeout
	}
	return o
}

// Summary describes one finished batch.
type Summary struct {
	BatchID         string    `json:"batch_id"`
	Candidates      int       `json:"candidates"`
	Queued          int       `json:"queued"`
	Enriched        int       `json:"enriched"`
	Failed          int       `json:"failed"`
	Interrupted     int       `json:"interrupted"`
	AlreadyEnriched int       `json:"already_enriched"`
	Skipped         int       `json:"skipped"`
	Chunks          int       `json:"chunks"`
	Cancelled       bool      `json:"cancelled,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
}

// Scheduler runs enrichment batches. At most one batch runs at a time and
// each batch is followed by a cooldown during which new batches are refused.
type Scheduler struct {
	generator  cloud.TagGenerator
	store      cloud.MetadataStore
	classifier *classify.Classifier
	tracker    *Tracker
	opts       Options
	logger     *slog.Logger

	sink     Sink
	journal  Journal
	observer Observer
	clock    Clock

	mu            sync.Mutex
	state         BatchState
	cooldownUntil time.Time
	timer         Timer
	last          *Summary
	entropy       *ulid.MonotonicEntropy
}

func NewScheduler(generator cloud.TagGenerator, store cloud.MetadataStore, classifier *classify.Classifier, tracker *Tracker, opts Options, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		generator:  generator,
		store:      store,
		classifier: classifier,
		tracker:    tracker,
		opts:       opts.withDefaults(),
		logger:     logging.WithComponent(logging.OrDiscard(logger), "scheduler"),
		clock:      RealClock(),
		entropy:    ulid.Monotonic(rand.Reader, 0),
	}
}

func (s *Scheduler) SetSink(sink Sink)             { s.sink = sink }
func (s *Scheduler) SetJournal(journal Journal)    { s.journal = journal }
func (s *Scheduler) SetObserver(observer Observer) { s.observer = observer }
func (s *Scheduler) SetClock(clock Clock)          { s.clock = clock }

func (s *Scheduler) Tracker() *Tracker {
	return s.tracker
}

func (s *Scheduler) Options() Options {
	return s.opts
}

// State returns the current batch guard state.
func (s *Scheduler) State() BatchState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireCooldownLocked()
	return s.state
}

// LastSummary returns the summary of the most recent batch, if any.
func (s *Scheduler) LastSummary() *Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil
	}
	out := *s.last
	return &out
}

// Run enriches every eligible candidate. Candidates are processed in chunks
// of Options.Concurrency; every call of a chunk is issued at once and the
// next chunk starts only when the whole chunk has settled.
func (s *Scheduler) Run(ctx context.Context, candidates []catalog.VideoRecord) (summary Summary, err error) {
	batchID, err := s.begin()
	if err != nil {
		s.observeBatch(BatchRejected)
		return Summary{}, err
	}

	logger := logging.WithBatchID(s.logger, batchID)
	summary = Summary{
		BatchID:    batchID,
		Candidates: len(candidates),
		StartedAt:  s.clock.Now(),
	}

	defer func() {
		result := BatchCompleted
		if r := recover(); r != nil {
			logger.Error("enrichment batch panicked", "panic", r)
			err = fmt.Errorf("enrichment batch panicked: %v", r)
			result = BatchPanicked
		} else if summary.Cancelled {
			result = BatchCancelled
		}

		// Only one batch runs at a time, so any claimed candidate is ours.
		for _, v := range candidates {
			if s.tracker.Release(v.ID) {
				logger.Debug("released unfinished video", "video_id", v.ID)
			}
		}

		summary.FinishedAt = s.clock.Now()
		s.finish(summary)
		s.observeBatch(result)
	}()

	queued := s.selectCandidates(ctx, batchID, candidates, &summary)
	summary.Queued = len(queued)
	if len(queued) == 0 {
		logger.Debug("nothing to enrich", "candidates", len(candidates))
		return summary, nil
	}

	logger.Info("enrichment batch started", "candidates", len(candidates), "queued", len(queued))

	k := s.opts.Concurrency
	for start := 0; start < len(queued); start += k {
		if ctx.Err() != nil {
			summary.Cancelled = true
			break
		}
		end := min(start+k, len(queued))
		s.runChunk(ctx, batchID, queued[start:end], &summary)
		summary.Chunks++
	}
	if summary.Interrupted > 0 {
		summary.Cancelled = true
	}

	logger.Info("enrichment batch finished",
		"enriched", summary.Enriched,
		"failed", summary.Failed,
		"chunks", summary.Chunks,
		"cancelled", summary.Cancelled,
	)

	if summary.Cancelled {
		return summary, fmt.Errorf("enrichment batch %s: %w", batchID, context.Cause(ctx))
	}
	return summary, nil
}

func (s *Scheduler) begin() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireCooldownLocked()
	switch s.state {
	case Running:
		return "", ErrBatchRunning
	case CoolingDown:
		return "", ErrCoolingDown
	}

	s.state = Running
	return ulid.MustNew(ulid.Timestamp(s.clock.Now()), s.entropy).String(), nil
}

func (s *Scheduler) finish(summary Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.last = &summary
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.opts.Cooldown <= 0 {
		s.state = Idle
		return
	}

	s.state = CoolingDown
	s.cooldownUntil = s.clock.Now().Add(s.opts.Cooldown)
	s.timer = s.clock.AfterFunc(s.opts.Cooldown, s.endCooldown)
}

func (s *Scheduler) endCooldown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == CoolingDown {
		s.state = Idle
		s.timer = nil
	}
}

func (s *Scheduler) expireCooldownLocked() {
	if s.state == CoolingDown && !s.clock.Now().Before(s.cooldownUntil) {
		s.state = Idle
	}
}

// selectCandidates filters candidates down to the ids that need work and
// claims them in the tracker. Duplicate ids are considered once.
func (s *Scheduler) selectCandidates(ctx context.Context, batchID string, candidates []catalog.VideoRecord, summary *Summary) []catalog.VideoRecord {
	seen := make(map[string]struct{}, len(candidates))
	var queued []catalog.VideoRecord

	for _, v := range candidates {
		if v.ID == "" {
			summary.Skipped++
			continue
		}
		if _, dup := seen[v.ID]; dup {
			continue
		}
		seen[v.ID] = struct{}{}

		if !s.tracker.IsEligible(v.ID) {
			summary.Skipped++
			continue
		}

		switch s.opts.Eligibility.Check(v) {
		case NotReady:
			summary.Skipped++
		case AlreadyEnriched:
			s.tracker.MarkDone(v.ID)
			summary.AlreadyEnriched++
			s.record(ctx, v.ID, batchID, catalog.OutcomeSkipped, "already enriched")
		case NeedsWork:
			if s.tracker.TryQueue(v.ID) {
				queued = append(queued, v)
			} else {
				summary.Skipped++
			}
		}
	}
	return queued
}

func (s *Scheduler) runChunk(ctx context.Context, batchID string, chunk []catalog.VideoRecord, summary *Summary) {
	outcomes := make([]string, len(chunk))

	var g errgroup.Group
	for i, v := range chunk {
		g.Go(func() error {
			outcomes[i] = s.processVideo(ctx, batchID, v)
			return nil
		})
	}
	_ = g.Wait()

	for _, outcome := range outcomes {
		switch outcome {
		case catalog.OutcomeDone:
			summary.Enriched++
		case catalog.OutcomeFailed:
			summary.Failed++
		case catalog.OutcomeInterrupted:
			summary.Interrupted++
		case catalog.OutcomeSkipped:
			summary.Skipped++
		}
	}
}

// processVideo runs one video through generate, classify and update. It
// never panics and always leaves the id out of the in-flight state.
func (s *Scheduler) processVideo(ctx context.Context, batchID string, v catalog.VideoRecord) (outcome string) {
	logger := logging.WithVideoID(logging.WithBatchID(s.logger, batchID), v.ID)

	if !s.tracker.TryMarkInFlight(v.ID) {
		return catalog.OutcomeSkipped
	}

	started := s.clock.Now()
	attemptID := s.beginAttempt(ctx, v.ID, batchID)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("enrichment panicked", "panic", r)
			s.tracker.Fail(v.ID)
			outcome = catalog.OutcomeFailed
			s.finishAttempt(ctx, attemptID, outcome, fmt.Sprintf("panic: %v", r))
		}
		s.observeVideo(outcome, s.clock.Now().Sub(started))
	}()

	md, err := s.enrich(ctx, v.ID)
	if err != nil {
		if ctx.Err() != nil {
			s.tracker.Release(v.ID)
			logger.Warn("enrichment interrupted", "error", err)
			s.finishAttempt(ctx, attemptID, catalog.OutcomeInterrupted, err.Error())
			return catalog.OutcomeInterrupted
		}

		state := s.tracker.Fail(v.ID)
		logger.Warn("enrichment failed", "error", err, "state", state, "attempts", s.tracker.Attempts(v.ID))
		s.finishAttempt(ctx, attemptID, catalog.OutcomeFailed, err.Error())
		return catalog.OutcomeFailed
	}

	if s.sink != nil && !s.sink.Apply(v.ID, md) {
		logger.Debug("video left the collection before its result arrived")
	}
	s.tracker.MarkDone(v.ID)
	s.finishAttempt(ctx, attemptID, catalog.OutcomeDone, "")
	logger.Info("video enriched", "tags", len(md.Tags()))
	return catalog.OutcomeDone
}

func (s *Scheduler) enrich(ctx context.Context, videoID string) (catalog.Metadata, error) {
	genCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
	text, err := s.generator.Generate(genCtx, videoID)
	cancel()
	if err != nil {
		return catalog.Metadata{}, fmt.Errorf("generate: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return catalog.Metadata{}, fmt.Errorf("generate: %w", cloud.ErrEmptyTags)
	}

	// Text without hashtags classifies to an all-empty record, which is
	// still persisted so the video is not regenerated.
	md := s.classifier.Classify(text)

	updCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
	defer cancel()
	if err := s.store.UpdateMetadata(updCtx, videoID, s.opts.IndexID, md); err != nil {
		return catalog.Metadata{}, fmt.Errorf("update metadata: %w", err)
	}
	return md, nil
}

// beginAttempt opens a ledger row for videoID. Ledger writes ignore batch
// cancellation so interrupted attempts are still recorded.
func (s *Scheduler) beginAttempt(ctx context.Context, videoID, batchID string) int64 {
	if s.journal == nil {
		return 0
	}
	id, err := s.journal.BeginAttempt(context.WithoutCancel(ctx), videoID, batchID)
	if err != nil {
		s.logger.Warn("failed to record attempt start", "video_id", videoID, "error", err)
		return 0
	}
	return id
}

func (s *Scheduler) finishAttempt(ctx context.Context, id int64, outcome, errMsg string) {
	if s.journal == nil || id == 0 {
		return
	}
	if err := s.journal.FinishAttempt(context.WithoutCancel(ctx), id, outcome, errMsg); err != nil {
		s.logger.Warn("failed to record attempt outcome", "attempt_id", id, "error", err)
	}
}

func (s *Scheduler) record(ctx context.Context, videoID, batchID, outcome, errMsg string) {
	if s.journal == nil {
		return
	}
	if err := s.journal.RecordAttempt(context.WithoutCancel(ctx), videoID, batchID, outcome, errMsg); err != nil {
		s.logger.Warn("failed to record attempt", "video_id", videoID, "error", err)
	}
}

func (s *Scheduler) observeVideo(outcome string, d time.Duration) {
	if s.observer != nil {
		s.observer.ObserveVideo(outcome, d)
	}
}

func (s *Scheduler) observeBatch(result string) {
	if s.observer != nil {
		s.observer.ObserveBatch(result)
	}
}
