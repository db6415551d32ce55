// Package quota tracks how many external-provider calls have been spent in
// the current budget window and refuses reservations once it is exhausted.
//
// Reservations are charged up front: a provider call that later fails still
// counts, since the provider bills it regardless. The ceiling is strict.
package quota

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

var (
	// ErrExhausted is returned when a reservation would exceed callsAllowed.
	ErrExhausted = errors.New("quota exhausted")

	// ErrInvalidReservation is returned for non-positive reservation sizes.
	ErrInvalidReservation = errors.New("invalid reservation size")
)

// Store persists window state so a restart does not reset spend early.
type Store interface {
	Load(ctx context.Context) (State, bool, error)
	Save(ctx context.Context, st State) error
}

// SharedStore is a Store that several processes share. Its Reserve checks
// and charges the allowance in one atomic step against the stored count, so
// the ceiling holds across processes. spent is the shared count afterwards
// (or at denial).
type SharedStore interface {
	Store
	Reserve(ctx context.Context, windowStart time.Time, n, allowed int) (spent int, granted bool, err error)
}

// State is the persisted part of a Window.
type State struct {
	WindowStart time.Time
	Spent       int
}

// Tracker gates provider calls against a per-window allowance.
// All methods are safe for concurrent use.
type Tracker struct {
	allowed int
	period  Period
	store   Store
	log     *zap.SugaredLogger
	timeNow func() time.Time

	mu    sync.Mutex
	start time.Time
	end   time.Time
	spent int
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock injects the time source (for testing).
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.timeNow = now }
}

// New builds a Tracker allowing callsAllowed calls per window, restoring any
// spend already recorded in store for the current window.
func New(ctx context.Context, callsAllowed int, period Period, store Store, log *zap.SugaredLogger, opts ...Option) (*Tracker, error) {
	if callsAllowed < 0 {
		return nil, errors.Newf("callsAllowed must be >= 0, got %d", callsAllowed)
	}
	if period == nil {
		period = Monthly{}
	}
	if store == nil {
		store = NewMemoryStore()
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	t := &Tracker{
		allowed: callsAllowed,
		period:  period,
		store:   store,
		log:     log,
		timeNow: time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}

	t.start = period.Start(t.timeNow())
	t.end = period.End(t.start)

	st, ok, err := store.Load(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load quota state")
	}
	if ok && st.WindowStart.Equal(t.start) {
		// callsAllowed may have been lowered since the state was written.
		t.spent = min(st.Spent, callsAllowed)
	}

	t.log.Infow("Quota tracker ready",
		"window_start", t.start,
		"window_end", t.end,
		"spent", t.spent,
		"allowed", t.allowed,
	)
	return t, nil
}

// Reserve atomically takes n calls from the current window. On success the
// spend is recorded immediately; on denial nothing changes.
func (t *Tracker) Reserve(ctx context.Context, n int) error {
	if n <= 0 {
		return errors.Wrapf(ErrInvalidReservation, "n=%d", n)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.rolloverLocked(t.timeNow())

	if shared, ok := t.store.(SharedStore); ok {
		return t.reserveSharedLocked(ctx, shared, n)
	}

	if t.spent+n > t.allowed {
		return t.exhaustedLocked(n)
	}
	t.spent += n

	if err := t.store.Save(ctx, State{WindowStart: t.start, Spent: t.spent}); err != nil {
		// The in-memory ceiling still holds; only restart durability is at risk.
		t.log.Warnw("Failed to persist quota state",
			"error", err.Error(),
			"spent", t.spent,
		)
	}
	return nil
}

// reserveSharedLocked charges the shared store. A store error denies the
// reservation. Must be called with mu held.
func (t *Tracker) reserveSharedLocked(ctx context.Context, shared SharedStore, n int) error {
	spent, granted, err := shared.Reserve(ctx, t.start, n, t.allowed)
	if err != nil {
		return errors.Wrap(err, "reserve shared quota")
	}
	t.spent = min(spent, t.allowed)
	if !granted {
		return t.exhaustedLocked(n)
	}
	return nil
}

func (t *Tracker) exhaustedLocked(n int) error {
	return errors.WithDetailf(ErrExhausted,
		"requested %d, spent %d of %d, window ends %s",
		n, t.spent, t.allowed, t.end.Format(time.RFC3339))
}

// WindowRemaining returns how many calls are left in the current window.
func (t *Tracker) WindowRemaining() int {
	return t.Snapshot().Remaining()
}

// Snapshot returns the current window after applying any pending rollover.
func (t *Tracker) Snapshot() Window {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rolloverLocked(t.timeNow())
	return Window{Start: t.start, End: t.end, Spent: t.spent, Allowed: t.allowed}
}

// rolloverLocked resets spend when now has crossed into a later window.
// Must be called with mu held.
func (t *Tracker) rolloverLocked(now time.Time) {
	if now.Before(t.end) {
		return
	}
	prevStart, prevSpent := t.start, t.spent
	t.start = t.period.Start(now)
	t.end = t.period.End(t.start)
	t.spent = 0
	t.log.Infow("Quota window rolled over",
		"previous_start", prevStart,
		"previous_spent", prevSpent,
		"window_start", t.start,
		"window_end", t.end,
	)
}

// MemoryStore keeps state in process memory only. Trackers in the same
// process may share one.
type MemoryStore struct {
	mu  sync.Mutex
	st  State
	set bool
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(context.Context) (State, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st, m.set, nil
}

func (m *MemoryStore) Save(_ context.Context, st State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st, m.set = st, true
	return nil
}

// Reserve implements SharedStore.
func (m *MemoryStore) Reserve(_ context.Context, windowStart time.Time, n, allowed int) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	spent := 0
	switch {
	case m.set && m.st.WindowStart.Equal(windowStart):
		spent = m.st.Spent
	case m.set && m.st.WindowStart.After(windowStart):
		// Another tracker already rolled into a later window.
		return allowed, false, nil
	}
	if spent+n > allowed {
		return spent, false, nil
	}
	m.st, m.set = State{WindowStart: windowStart, Spent: spent + n}, true
	return spent + n, true, nil
}
