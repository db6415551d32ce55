// Package scheduler decides when an ingestion cycle runs. A robfig/cron
// entry fires the periodic trigger with a rotating (role, type) candidate;
// manual triggers enter the same path with an explicit query. Only one cycle
// runs at a time and triggers arriving meanwhile are rejected, not queued.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"jobboard/ingestion-service/internal/broadcast"
	"jobboard/ingestion-service/internal/ingest"
	"jobboard/ingestion-service/internal/model"
	"jobboard/ingestion-service/internal/provider"
)

var (
	// ErrCycleRunning is returned when a trigger arrives while a cycle runs.
	ErrCycleRunning = errors.New("ingestion cycle already in progress")

	// ErrCoolingDown is returned while backing off after a RateLimited failure.
	ErrCoolingDown = errors.New("ingestion cooling down after provider rate limit")
)

// Fetcher is the provider side of a cycle (provider.Adapter).
type Fetcher interface {
	Fetch(ctx context.Context, q model.Query) ([]model.ExternalListing, error)
}

// Merger is the storage side of a cycle (ingest.Ingestor).
type Merger interface {
	Merge(ctx context.Context, batch []model.ExternalListing) (ingest.Result, error)
}

// Config holds the scheduler's static configuration.
type Config struct {
	Spec         string        // cron spec, e.g. "@every 12h"
	Candidates   []model.Query // periodic rotation list
	CycleTimeout time.Duration // bounds one whole cycle
	Cooldown     time.Duration // backoff after a RateLimited failure
	RunOnStart   bool          // run one periodic cycle immediately on Start
}

// Scheduler wraps robfig/cron and serializes ingestion cycles.
type Scheduler struct {
	fetcher   Fetcher
	merger    Merger
	publisher broadcast.Publisher
	cfg       Config
	cron      *cron.Cron
	entryID   cron.EntryID
	log       *zap.SugaredLogger
	timeNow   func() time.Time
	seq       atomic.Uint64
	startup   sync.WaitGroup

	// running is held for the full duration of a cycle.
	running sync.Mutex

	mu            sync.Mutex
	state         State
	cooldownUntil time.Time
	last          *Cycle
	next          int // index into cfg.Candidates
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock injects the time source (for testing).
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.timeNow = now }
}

// New creates an Idle Scheduler. Nothing fires until Start.
func New(fetcher Fetcher, merger Merger, publisher broadcast.Publisher, cfg Config, log *zap.SugaredLogger, opts ...Option) *Scheduler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = 15 * time.Second
	}
	s := &Scheduler{
		fetcher:   fetcher,
		merger:    merger,
		publisher: publisher,
		cfg:       cfg,
		log:       log,
		timeNow:   time.Now,
		state:     StateIdle,
	}
	s.cron = cron.New(cron.WithLogger(cronLogger{log}), cron.WithChain(cron.Recover(cronLogger{log})))
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start registers the periodic job and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	if len(s.cfg.Candidates) == 0 {
		return errors.New("scheduler: no periodic candidates configured")
	}
	id, err := s.cron.AddFunc(s.cfg.Spec, func() {
		s.RunPeriodic(ctx)
	})
	if err != nil {
		return errors.Wrapf(err, "cron.AddFunc(%q)", s.cfg.Spec)
	}
	s.entryID = id

	s.cron.Start()
	s.log.Infow("Cron started", "spec", s.cfg.Spec, "candidates", len(s.cfg.Candidates))

	if s.cfg.RunOnStart {
		s.startup.Add(1)
		go func() {
			defer s.startup.Done()
			s.RunPeriodic(ctx)
		}()
	}
	return nil
}

// Stop halts the cron loop and waits for running periodic cycles,
// including the startup run.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.startup.Wait()
	s.log.Infow("Cron stopped")
}

// RunPeriodic runs one cycle for the next rotation candidate. Cycle
// failures are logged by Trigger; the next tick is the retry.
func (s *Scheduler) RunPeriodic(ctx context.Context) {
	q, ok := s.peekCandidate()
	if !ok {
		return
	}

	_, err := s.Trigger(ctx, q, TriggerPeriodic)
	if errors.IsAny(err, ErrCycleRunning, ErrCoolingDown) {
		// Candidate not consumed; it is tried again next tick.
		s.log.Infow("Periodic trigger skipped", "query", q.String(), "reason", err.Error())
		return
	}
	s.advanceCandidate()
}

// Trigger runs one cycle for q unless another is running or the scheduler
// is cooling down. The cycle is detached from ctx's cancellation: once
// started it runs to completion or to the cycle timeout.
func (s *Scheduler) Trigger(ctx context.Context, q model.Query, trigger Trigger) (Cycle, error) {
	if !s.running.TryLock() {
		return Cycle{}, ErrCycleRunning
	}
	defer s.running.Unlock()

	if err := s.begin(); err != nil {
		return Cycle{}, err
	}

	cycle := Cycle{
		ID:        s.seq.Add(1),
		Query:     q,
		Trigger:   trigger,
		StartedAt: s.timeNow(),
	}
	s.log.Infow("Ingestion cycle started", "cycle_id", cycle.ID, "query", q.String(), "trigger", trigger)

	err := s.runCycle(ctx, &cycle)
	s.finish(&cycle, err)
	return cycle, err
}

// runCycle is the strictly sequential body: fetch → merge → publish.
func (s *Scheduler) runCycle(parent context.Context, cycle *Cycle) error {
	base := context.WithoutCancel(parent)
	ctx, cancel := context.WithTimeout(base, s.cfg.CycleTimeout)
	defer cancel()

	batch, err := s.fetcher.Fetch(ctx, cycle.Query)
	if err != nil {
		kind, _ := provider.KindOf(err)
		cycle.Outcome = OutcomeProviderError
		switch {
		case kind == provider.KindQuotaExhausted:
			cycle.Outcome = OutcomeQuotaExhausted
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			// The cycle-level timeout fired, whatever the request saw.
			kind = provider.KindUnavailable
			err = errors.Wrapf(err, "cycle timed out after %s", s.cfg.CycleTimeout)
		}
		cycle.ErrorKind = kind
		return err
	}
	cycle.Fetched = len(batch)

	res, mergeErr := s.merger.Merge(ctx, batch)
	cycle.Inserted = len(res.Inserted)
	cycle.Skipped = res.Skipped
	cycle.Failed = res.Failed

	// Whatever was persisted is announced, even if the merge was cut short.
	if len(res.Inserted) > 0 {
		s.publisher.Publish(base, res.Inserted)
	}

	if mergeErr != nil {
		cycle.Outcome = OutcomeStoreError
		return errors.Wrap(mergeErr, "merge batch")
	}
	if cycle.Inserted > 0 {
		cycle.Outcome = OutcomeNewJobs
	} else {
		cycle.Outcome = OutcomeNoNewJobs
	}
	return nil
}

// begin moves Idle → Running, expiring a finished cooldown first.
func (s *Scheduler) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.timeNow()
	if s.state == StateCooldown {
		if now.Before(s.cooldownUntil) {
			return errors.WithDetailf(ErrCoolingDown, "retry after %s", s.cooldownUntil.Format(time.RFC3339))
		}
		s.transitionLocked(StateIdle)
	}
	s.transitionLocked(StateRunning)
	return nil
}

// finish records the cycle and returns to Idle, or to Cooldown after a
// RateLimited failure.
func (s *Scheduler) finish(cycle *Cycle, err error) {
	cycle.Duration = s.timeNow().Sub(cycle.StartedAt)
	if err != nil {
		cycle.Error = err.Error()
	}

	s.mu.Lock()
	next := StateIdle
	if cycle.ErrorKind == provider.KindRateLimited {
		backoff := s.cfg.Cooldown
		var pe *provider.Error
		if errors.As(err, &pe) && pe.RetryAfter > backoff {
			backoff = pe.RetryAfter
		}
		if backoff > 0 {
			next = StateCooldown
			s.cooldownUntil = s.timeNow().Add(backoff)
		}
	}
	s.transitionLocked(next)
	last := *cycle
	s.last = &last
	cooldownUntil := s.cooldownUntil
	s.mu.Unlock()

	fields := []any{
		"cycle_id", cycle.ID,
		"query", cycle.Query.String(),
		"trigger", cycle.Trigger,
		"outcome", cycle.Outcome,
		"fetched", cycle.Fetched,
		"inserted", cycle.Inserted,
		"skipped", cycle.Skipped,
		"failed", cycle.Failed,
		"duration", cycle.Duration,
	}
	switch {
	case next == StateCooldown:
		s.log.Warnw("Ingestion cycle rate limited, cooling down", append(fields, "until", cooldownUntil, "error", cycle.Error)...)
	case cycle.Outcome == OutcomeQuotaExhausted:
		s.log.Infow("Ingestion cycle denied by quota", fields...)
	case !cycle.Succeeded():
		s.log.Warnw("Ingestion cycle failed", append(fields, "error_kind", cycle.ErrorKind, "error", cycle.Error)...)
	default:
		s.log.Infow("Ingestion cycle complete", fields...)
	}
}

// transitionLocked applies a state change. Must be called with mu held.
func (s *Scheduler) transitionLocked(to State) {
	if !IsTransitionAllowed(s.state, to) {
		// Unreachable while running serializes cycles; keep the state machine honest.
		s.log.Errorw("Invalid scheduler transition", "from", s.state, "to", to)
	}
	s.state = to
}

func (s *Scheduler) peekCandidate() (model.Query, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.cfg.Candidates) == 0 {
		return model.Query{}, false
	}
	return s.cfg.Candidates[s.next%len(s.cfg.Candidates)], true
}

func (s *Scheduler) advanceCandidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.cfg.Candidates) > 0 {
		s.next = (s.next + 1) % len(s.cfg.Candidates)
	}
}

// Status is a point-in-time view for the status endpoint.
type Status struct {
	State         State        `json:"state"`
	CooldownUntil *time.Time   `json:"cooldownUntil,omitempty"`
	NextRun       *time.Time   `json:"nextRun,omitempty"`
	NextCandidate *model.Query `json:"nextCandidate,omitempty"`
	LastCycle     *Cycle       `json:"lastCycle,omitempty"`
}

// Status reports the scheduler's current state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{State: s.state}
	if s.state == StateCooldown {
		if s.timeNow().Before(s.cooldownUntil) {
			until := s.cooldownUntil
			st.CooldownUntil = &until
		} else {
			st.State = StateIdle
		}
	}
	if s.last != nil {
		last := *s.last
		st.LastCycle = &last
	}
	if len(s.cfg.Candidates) > 0 {
		q := s.cfg.Candidates[s.next%len(s.cfg.Candidates)]
		st.NextCandidate = &q
	}
	if s.entryID != 0 {
		if next := s.cron.Entry(s.entryID).Next; !next.IsZero() {
			st.NextRun = &next
		}
	}
	return st
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw("cron: "+msg, append(keysAndValues, "error", err.Error())...)
}
