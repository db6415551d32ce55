// Package ingest merges provider batches into the job store, inserting only
// listings whose external id is not already known.
package ingest

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"jobboard/ingestion-service/internal/model"
)

// Store is the insert-if-absent contract of the authoritative job store.
type Store interface {
	// InsertIfAbsent persists l as a new Approved job unless its external id
	// already exists. inserted is false for an existing id.
	InsertIfAbsent(ctx context.Context, l model.ExternalListing) (job model.PersistedJob, inserted bool, err error)
}

// atomicStore is implemented by stores whose InsertIfAbsent is a single
// atomic statement. Other stores get their merges serialized.
type atomicStore interface {
	AtomicInsert() bool
}

// Result is the outcome of one Merge. Inserted is in batch order.
type Result struct {
	Inserted []model.PersistedJob
	Skipped  int
	Failed   int
}

// Ingestor deduplicates by external id and persists new listings.
type Ingestor struct {
	store     Store
	serialize bool
	mu        sync.Mutex
	log       *zap.SugaredLogger
}

// New returns an Ingestor writing to store.
func New(store Store, log *zap.SugaredLogger) *Ingestor {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	serialize := true
	if a, ok := store.(atomicStore); ok && a.AtomicInsert() {
		serialize = false
	}
	return &Ingestor{store: store, serialize: serialize, log: log}
}

// Merge inserts the unknown listings of batch. Existing jobs are left
// untouched and counted as skipped. A store error on one listing is logged
// and counted as failed; the rest of the batch still proceeds. Merge only
// returns an error when ctx ends mid-batch, together with what was inserted
// so far.
func (i *Ingestor) Merge(ctx context.Context, batch []model.ExternalListing) (Result, error) {
	if i.serialize {
		i.mu.Lock()
		defer i.mu.Unlock()
	}

	res := Result{Inserted: make([]model.PersistedJob, 0, len(batch))}
	for _, l := range batch {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		job, inserted, err := i.store.InsertIfAbsent(ctx, l)
		switch {
		case err != nil:
			res.Failed++
			i.log.Warnw("Job insert failed",
				"external_id", l.ExternalID,
				"source", l.Source,
				"error", err.Error(),
			)
		case inserted:
			res.Inserted = append(res.Inserted, job)
		default:
			res.Skipped++
		}
	}

	i.log.Debugw("Batch merged",
		"batch", len(batch),
		"inserted", len(res.Inserted),
		"skipped", res.Skipped,
		"failed", res.Failed,
	)
	return res, nil
}
