package enrich

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/heimdex/heimdex-tagger/internal/catalog"
	"github.com/heimdex/heimdex-tagger/internal/classify"
	"github.com/heimdex/heimdex-tagger/internal/cloud"
)

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	wasActive := !t.stopped && !t.fired
	t.stopped = true
	return wasActive
}

// fakeClock only moves when Advance is called.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and fires due timers outside the lock.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []func()
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t.fn)
		}
	}
	c.mu.Unlock()

	for _, fn := range due {
		fn()
	}
}

// fakeGenerator returns canned text per video id.
type fakeGenerator struct {
	mu    sync.Mutex
	text  map[string]string
	errs  map[string]error
	calls map[string]int
	panic map[string]bool
	def   string
}

func newFakeGenerator(def string) *fakeGenerator {
	return &fakeGenerator{
		text:  make(map[string]string),
		errs:  make(map[string]error),
		calls: make(map[string]int),
		panic: make(map[string]bool),
		def:   def,
	}
}

func (g *fakeGenerator) Generate(ctx context.Context, videoID string) (string, error) {
	g.mu.Lock()
	g.calls[videoID]++
	err := g.errs[videoID]
	text, ok := g.text[videoID]
	shouldPanic := g.panic[videoID]
	g.mu.Unlock()

	if shouldPanic {
		panic("generator exploded")
	}
	if err != nil {
		return "", err
	}
	if !ok {
		text = g.def
	}
	return text, nil
}

func (g *fakeGenerator) setErr(id string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.errs, id)
		return
	}
	g.errs[id] = err
}

func (g *fakeGenerator) Calls(id string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[id]
}

func (g *fakeGenerator) TotalCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		n += c
	}
	return n
}

// gatedGenerator blocks every call until the test lets one through.
type gatedGenerator struct {
	started chan string
	gate    chan struct{}

	current atomic.Int32
	peak    atomic.Int32
}

func newGatedGenerator() *gatedGenerator {
	return &gatedGenerator{
		started: make(chan string, 100),
		gate:    make(chan struct{}),
	}
}

func (g *gatedGenerator) Generate(ctx context.Context, videoID string) (string, error) {
	n := g.current.Add(1)
	defer g.current.Add(-1)
	for {
		peak := g.peak.Load()
		if n <= peak || g.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	g.started <- videoID
	select {
	case <-g.gate:
		return "#male #tech #happy", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// release lets n blocked calls return.
func (g *gatedGenerator) release(n int) {
	for i := 0; i < n; i++ {
		g.gate <- struct{}{}
	}
}

// fakeStore records metadata updates.
type fakeStore struct {
	mu      sync.Mutex
	updates map[string]catalog.Metadata
	indexes map[string]string
	err     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		updates: make(map[string]catalog.Metadata),
		indexes: make(map[string]string),
	}
}

func (s *fakeStore) UpdateMetadata(ctx context.Context, videoID, indexID string, md catalog.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.updates[videoID] = md
	s.indexes[videoID] = indexID
	return nil
}

func (s *fakeStore) get(id string) (catalog.Metadata, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	md, ok := s.updates[id]
	return md, ok
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.updates)
}

// fakeJournal keeps attempts in memory.
type fakeJournal struct {
	mu       sync.Mutex
	nextID   int64
	outcomes map[int64]string
	videos   map[int64]string
}

func newFakeJournal() *fakeJournal {
	return &fakeJournal{
		outcomes: make(map[int64]string),
		videos:   make(map[int64]string),
	}
}

func (j *fakeJournal) BeginAttempt(ctx context.Context, videoID, batchID string) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.nextID++
	j.outcomes[j.nextID] = catalog.OutcomeInFlight
	j.videos[j.nextID] = videoID
	return j.nextID, nil
}

func (j *fakeJournal) FinishAttempt(ctx context.Context, id int64, outcome, errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.outcomes[id]; !ok {
		return fmt.Errorf("unknown attempt %d", id)
	}
	j.outcomes[id] = outcome
	return nil
}

func (j *fakeJournal) RecordAttempt(ctx context.Context, videoID, batchID, outcome, errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.nextID++
	j.outcomes[j.nextID] = outcome
	j.videos[j.nextID] = videoID
	return nil
}

func (j *fakeJournal) count(outcome string) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	n := 0
	for _, o := range j.outcomes {
		if o == outcome {
			n++
		}
	}
	return n
}

type fakeObserver struct {
	mu      sync.Mutex
	videos  map[string]int
	batches map[string]int
}

func newFakeObserver() *fakeObserver {
	return &fakeObserver{videos: make(map[string]int), batches: make(map[string]int)}
}

func (o *fakeObserver) ObserveVideo(outcome string, d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.videos[outcome]++
}

func (o *fakeObserver) ObserveBatch(result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.batches[result]++
}

var errVendor = errors.New("vendor unavailable")

func videos(n int) []catalog.VideoRecord {
	out := make([]catalog.VideoRecord, n)
	for i := range out {
		out[i] = catalog.VideoRecord{ID: fmt.Sprintf("vid-%02d", i), Status: catalog.StatusReady}
	}
	return out
}

func testEligibility() Eligibility {
	return Eligibility{
		Fields: []string{
			catalog.FieldSource,
			catalog.FieldSector,
			catalog.FieldEmotions,
			catalog.FieldBrands,
			catalog.FieldLocations,
		},
		RequireReady: true,
	}
}

func newTestScheduler(gen cloud.TagGenerator, store *fakeStore, opts Options) (*Scheduler, *fakeClock) {
	if opts.Eligibility.Fields == nil {
		opts.Eligibility = testEligibility()
	}
	s := NewScheduler(gen, store, classify.New(classify.DefaultDictionary()), NewTracker(0), opts, nil)
	clock := newFakeClock()
	s.SetClock(clock)
	return s, clock
}
