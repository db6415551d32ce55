package quota

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockClock allows controlling time in tests
type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func newMockClock(now time.Time) *mockClock {
	return &mockClock{now: now}
}

func (m *mockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *mockClock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

func newTestTracker(t *testing.T, allowed int, clock *mockClock, store Store) *Tracker {
	t.Helper()
	tr, err := New(context.Background(), allowed, Monthly{}, store, nil, WithClock(clock.Now))
	require.NoError(t, err)
	return tr
}

func TestTracker_GrantsUntilCeiling(t *testing.T) {
	clock := newMockClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	tr := newTestTracker(t, 2, clock, nil)
	ctx := context.Background()

	require.NoError(t, tr.Reserve(ctx, 1))
	assert.Equal(t, 1, tr.WindowRemaining())
	require.NoError(t, tr.Reserve(ctx, 1))
	assert.Equal(t, 0, tr.WindowRemaining())

	err := tr.Reserve(ctx, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExhausted))
	assert.Equal(t, 2, tr.Snapshot().Spent, "denied reservation must not change spend")
}

func TestTracker_RejectsRatherThanClamps(t *testing.T) {
	clock := newMockClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	tr := newTestTracker(t, 5, clock, nil)
	ctx := context.Background()

	require.NoError(t, tr.Reserve(ctx, 3))
	err := tr.Reserve(ctx, 3)
	assert.True(t, errors.Is(err, ErrExhausted))
	assert.Equal(t, 3, tr.Snapshot().Spent)

	require.NoError(t, tr.Reserve(ctx, 2))
	assert.Equal(t, 0, tr.WindowRemaining())
}

func TestTracker_InvalidReservation(t *testing.T) {
	clock := newMockClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	tr := newTestTracker(t, 5, clock, nil)

	for _, n := range []int{0, -1} {
		err := tr.Reserve(context.Background(), n)
		assert.True(t, errors.Is(err, ErrInvalidReservation), "n=%d", n)
	}
	assert.Equal(t, 0, tr.Snapshot().Spent)
}

func TestTracker_ZeroAllowanceDeniesEverything(t *testing.T) {
	clock := newMockClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	tr := newTestTracker(t, 0, clock, nil)
	assert.True(t, errors.Is(tr.Reserve(context.Background(), 1), ErrExhausted))
}

// Given: 10 goroutines each trying 20 reservations against a ceiling of 37
// Then: exactly 37 are granted (run with -race)
func TestTracker_ConcurrentReservationsNeverOverspend(t *testing.T) {
	clock := newMockClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	tr := newTestTracker(t, 37, clock, nil)

	var granted atomic.Int64
	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				if err := tr.Reserve(context.Background(), 1); err == nil {
					granted.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(37), granted.Load())
	assert.Equal(t, 37, tr.Snapshot().Spent)
}

func TestTracker_ConcurrentMixedSizes(t *testing.T) {
	clock := newMockClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	tr := newTestTracker(t, 50, clock, nil)

	var grantedCalls atomic.Int64
	var wg sync.WaitGroup
	for g := 1; g <= 8; g++ {
		size := g
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				if err := tr.Reserve(context.Background(), size); err == nil {
					grantedCalls.Add(int64(size))
				}
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, grantedCalls.Load(), int64(50))
	assert.Equal(t, int(grantedCalls.Load()), tr.Snapshot().Spent)
}

func TestTracker_RolloverResetsSpend(t *testing.T) {
	clock := newMockClock(time.Date(2026, 3, 30, 23, 0, 0, 0, time.UTC))
	tr := newTestTracker(t, 2, clock, nil)
	ctx := context.Background()

	require.NoError(t, tr.Reserve(ctx, 2))
	assert.True(t, errors.Is(tr.Reserve(ctx, 1), ErrExhausted))

	// No call happens at the boundary itself; the next reserve is weeks later.
	clock.Set(time.Date(2026, 4, 17, 8, 0, 0, 0, time.UTC))
	require.NoError(t, tr.Reserve(ctx, 1))

	w := tr.Snapshot()
	assert.Equal(t, 1, w.Spent)
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), w.Start)
	assert.Equal(t, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), w.End)
}

func TestTracker_RolloverSkipsSeveralWindows(t *testing.T) {
	clock := newMockClock(time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC))
	tr := newTestTracker(t, 1, clock, nil)
	require.NoError(t, tr.Reserve(context.Background(), 1))

	clock.Set(time.Date(2026, 7, 2, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, 1, tr.WindowRemaining())
	assert.Equal(t, time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC), tr.Snapshot().Start)
}

func TestTracker_RestoresSpendFromStore(t *testing.T) {
	clock := newMockClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	store := NewMemoryStore()

	first := newTestTracker(t, 10, clock, store)
	require.NoError(t, first.Reserve(context.Background(), 4))

	// Simulated restart later the same month.
	clock.Set(time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC))
	second := newTestTracker(t, 10, clock, store)
	assert.Equal(t, 4, second.Snapshot().Spent)
	assert.Equal(t, 6, second.WindowRemaining())
}

func TestTracker_IgnoresStaleWindowInStore(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Save(context.Background(), State{
		WindowStart: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		Spent:       9,
	}))

	clock := newMockClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	tr := newTestTracker(t, 10, clock, store)
	assert.Equal(t, 0, tr.Snapshot().Spent)
}

func TestTracker_ClampsRestoredSpendToLoweredAllowance(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Save(context.Background(), State{
		WindowStart: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Spent:       9,
	}))

	clock := newMockClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	tr := newTestTracker(t, 5, clock, store)
	assert.Equal(t, 5, tr.Snapshot().Spent)
	assert.Equal(t, 0, tr.WindowRemaining())
}

type failingStore struct {
	loadErr error
	saveErr error
}

func (f failingStore) Load(context.Context) (State, bool, error) { return State{}, false, f.loadErr }
func (f failingStore) Save(context.Context, State) error         { return f.saveErr }

func TestTracker_SaveFailureStillEnforcesCeiling(t *testing.T) {
	clock := newMockClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	tr := newTestTracker(t, 1, clock, failingStore{saveErr: errors.New("redis down")})

	require.NoError(t, tr.Reserve(context.Background(), 1))
	assert.True(t, errors.Is(tr.Reserve(context.Background(), 1), ErrExhausted))
}

func TestNew_LoadFailureIsFatal(t *testing.T) {
	_, err := New(context.Background(), 10, Monthly{}, failingStore{loadErr: errors.New("redis down")}, nil)
	require.Error(t, err)
}

func TestNew_NegativeAllowance(t *testing.T) {
	_, err := New(context.Background(), -1, Monthly{}, nil, nil)
	require.Error(t, err)
}

// Given: two trackers (two processes) charging one shared store, allowance 2
// Then: only 2 reservations are granted in total
func TestTracker_SharedStoreEnforcesCeilingAcrossTrackers(t *testing.T) {
	clock := newMockClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	store := NewMemoryStore()
	a := newTestTracker(t, 2, clock, store)
	b := newTestTracker(t, 2, clock, store)
	ctx := context.Background()

	require.NoError(t, a.Reserve(ctx, 1))
	require.NoError(t, b.Reserve(ctx, 1))
	assert.True(t, errors.Is(a.Reserve(ctx, 1), ErrExhausted))
	assert.True(t, errors.Is(b.Reserve(ctx, 1), ErrExhausted))

	st, _, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Spent)
	assert.Equal(t, 0, a.WindowRemaining(), "denial refreshes the local view")
}

func TestTracker_SharedStoreConcurrentTrackers(t *testing.T) {
	clock := newMockClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	store := NewMemoryStore()
	trackers := []*Tracker{
		newTestTracker(t, 25, clock, store),
		newTestTracker(t, 25, clock, store),
		newTestTracker(t, 25, clock, store),
	}

	var granted atomic.Int64
	var wg sync.WaitGroup
	for _, tr := range trackers {
		tr := tr
		for g := 0; g < 4; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 10; i++ {
					if err := tr.Reserve(context.Background(), 1); err == nil {
						granted.Add(1)
					}
				}
			}()
		}
	}
	wg.Wait()

	assert.Equal(t, int64(25), granted.Load())
}

func TestTracker_SharedStoreLaterWindowDenies(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Save(context.Background(), State{
		WindowStart: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		Spent:       1,
	}))

	// This tracker's clock still says March.
	clock := newMockClock(time.Date(2026, 3, 31, 23, 59, 0, 0, time.UTC))
	tr := newTestTracker(t, 10, clock, store)
	assert.True(t, errors.Is(tr.Reserve(context.Background(), 1), ErrExhausted))
}

type brokenSharedStore struct{ MemoryStore }

func (*brokenSharedStore) Reserve(context.Context, time.Time, int, int) (int, bool, error) {
	return 0, false, errors.New("redis down")
}

func TestTracker_SharedStoreErrorDenies(t *testing.T) {
	clock := newMockClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	tr := newTestTracker(t, 10, clock, &brokenSharedStore{})

	err := tr.Reserve(context.Background(), 1)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrExhausted))
	assert.Equal(t, 0, tr.Snapshot().Spent)
}
