package enrich

import "sync"

// State is the enrichment state of one video id.
type State string

const (
	StateEligible  State = "eligible"
	StateQueued    State = "queued"
	StateInFlight  State = "in_flight"
	StateDone      State = "done"
	StateExhausted State = "exhausted"
)

// States lists every state, eligible first.
var States = []State{StateEligible, StateQueued, StateInFlight, StateDone, StateExhausted}

// Tracker records which videos are queued, in flight, done or out of
// retries. Every method takes the same mutex, so concurrent workers never
// observe a half-applied transition. Ids without an entry are eligible.
type Tracker struct {
	mu          sync.Mutex
	states      map[string]State
	attempts    map[string]int
	maxAttempts int
}

// NewTracker returns an empty tracker. maxAttempts bounds how many failed
// attempts an id may accumulate before it is exhausted; 0 means unlimited.
func NewTracker(maxAttempts int) *Tracker {
	if maxAttempts < 0 {
		maxAttempts = 0
	}
	return &Tracker{
		states:      make(map[string]State),
		attempts:    make(map[string]int),
		maxAttempts: maxAttempts,
	}
}

// State returns the current state of id.
func (t *Tracker) State(id string) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stateLocked(id)
}

func (t *Tracker) stateLocked(id string) State {
	if s, ok := t.states[id]; ok {
		return s
	}
	return StateEligible
}

// IsEligible reports whether id may be picked up by a new batch.
func (t *Tracker) IsEligible(id string) bool {
	return t.State(id) == StateEligible
}

// TryQueue moves an eligible id to queued. It returns false if the id is
// already claimed, done or exhausted.
func (t *Tracker) TryQueue(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stateLocked(id) != StateEligible {
		return false
	}
	t.states[id] = StateQueued
	return true
}

// TryMarkInFlight moves an eligible or queued id to in flight and counts the
// attempt. It must succeed before any external call is made for id.
func (t *Tracker) TryMarkInFlight(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.stateLocked(id) {
	case StateEligible, StateQueued:
		t.states[id] = StateInFlight
		t.attempts[id]++
		return true
	}
	return false
}

// MarkDone records a successful enrichment. Done ids stay done until Forget.
func (t *Tracker) MarkDone(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states[id] = StateDone
}

// Fail records a failed attempt for an in-flight id. The id becomes
// eligible again, or exhausted once the retry budget is spent. It returns
// the resulting state.
func (t *Tracker) Fail(id string) State {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stateLocked(id) != StateInFlight {
		return t.stateLocked(id)
	}
	if t.maxAttempts > 0 && t.attempts[id] >= t.maxAttempts {
		t.states[id] = StateExhausted
		return StateExhausted
	}
	delete(t.states, id)
	return StateEligible
}

// Release returns a queued or in-flight id to eligible without judging the
// attempt. Other states are left alone.
func (t *Tracker) Release(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.stateLocked(id) {
	case StateQueued, StateInFlight:
		delete(t.states, id)
		return true
	}
	return false
}

// Forget clears everything known about id, including done and exhausted
// markers and the attempt count. It refuses ids that are currently claimed
// by a batch.
func (t *Tracker) Forget(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.stateLocked(id) {
	case StateQueued, StateInFlight:
		return false
	}
	delete(t.states, id)
	delete(t.attempts, id)
	return true
}

// Attempts returns how many attempts were started for id since the last
// Forget.
func (t *Tracker) Attempts(id string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts[id]
}

// Snapshot counts tracked ids per state. Eligible only counts ids that were
// attempted and are waiting for a retry.
func (t *Tracker) Snapshot() map[State]int {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[State]int, len(States))
	for _, s := range States {
		out[s] = 0
	}
	for _, s := range t.states {
		out[s]++
	}
	for id := range t.attempts {
		if _, tracked := t.states[id]; !tracked {
			out[StateEligible]++
		}
	}
	return out
}

// InFlight returns the number of ids currently claimed by a batch.
func (t *Tracker) InFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, s := range t.states {
		if s == StateInFlight {
			n++
		}
	}
	return n
}
