package scheduler

import (
	"time"

	"jobboard/ingestion-service/internal/model"
	"jobboard/ingestion-service/internal/provider"
)

// Trigger names what started a cycle.
type Trigger string

const (
	TriggerPeriodic Trigger = "periodic"
	TriggerManual   Trigger = "manual"
)

// Outcome is the terminal result of a cycle.
type Outcome string

const (
	OutcomeNewJobs        Outcome = "succeeded-with-new"
	OutcomeNoNewJobs      Outcome = "succeeded-with-zero-new"
	OutcomeQuotaExhausted Outcome = "failed-quota-exhausted"
	OutcomeProviderError  Outcome = "failed-provider-error"
	OutcomeStoreError     Outcome = "failed-store-error"
)

// Cycle describes one run of the pipeline. It lives in memory only.
type Cycle struct {
	ID        uint64        `json:"id"`
	Query     model.Query   `json:"query"`
	Trigger   Trigger       `json:"trigger"`
	Outcome   Outcome       `json:"outcome"`
	ErrorKind provider.Kind `json:"errorKind,omitempty"`
	Error     string        `json:"error,omitempty"`
	Fetched   int           `json:"fetched"`
	Inserted  int           `json:"inserted"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"durationNs"`
}

// Succeeded reports whether the cycle completed without a cycle-level failure.
func (c Cycle) Succeeded() bool {
	return c.Outcome == OutcomeNewJobs || c.Outcome == OutcomeNoNewJobs
}
