package provider

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"jobboard/ingestion-service/internal/model"
	"jobboard/ingestion-service/internal/quota"
)

// Reserver is the part of quota.Tracker the adapter needs.
type Reserver interface {
	Reserve(ctx context.Context, n int) error
}

// Adapter performs one bounded, quota-gated fetch per call. It neither
// deduplicates nor persists.
type Adapter struct {
	client   Client
	quota    Reserver
	redFlags []string
	log      *zap.SugaredLogger
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithRedFlags drops listings mentioning any of terms.
func WithRedFlags(terms []string) AdapterOption {
	return func(a *Adapter) { a.redFlags = terms }
}

// NewAdapter wraps client behind the quota gate q.
func NewAdapter(client Client, q Reserver, log *zap.SugaredLogger, opts ...AdapterOption) *Adapter {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	a := &Adapter{client: client, quota: q, log: log}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns the wrapped provider's name.
func (a *Adapter) Name() string { return a.client.Name() }

// Fetch reserves the query's cost and, if granted, retrieves and normalises
// one batch. Errors are always *Error.
func (a *Adapter) Fetch(ctx context.Context, q model.Query) ([]model.ExternalListing, error) {
	name := a.client.Name()
	cost := max(a.client.Cost(q), 1)

	if err := a.quota.Reserve(ctx, cost); err != nil {
		// A reservation larger than the whole allowance can never be granted either.
		if errors.IsAny(err, quota.ErrExhausted, quota.ErrInvalidReservation) {
			return nil, &Error{Kind: KindQuotaExhausted, Provider: name, Err: err}
		}
		return nil, &Error{Kind: KindUnavailable, Provider: name, Err: errors.Wrap(err, "reserve quota")}
	}

	raw, err := a.client.Search(ctx, q)
	if err != nil {
		var pe *Error
		if errors.As(err, &pe) {
			return nil, err
		}
		return nil, classifyTransport(name, err)
	}

	out := make([]model.ExternalListing, 0, len(raw))
	dropped := map[dropReason]int{}
	for _, l := range raw {
		nl, reason := normalize(l, name, a.redFlags)
		if reason != "" {
			dropped[reason]++
			continue
		}
		out = append(out, nl)
	}

	a.log.Debugw("Provider batch normalised",
		"provider", name,
		"query", q.String(),
		"cost", cost,
		"received", len(raw),
		"kept", len(out),
		"dropped_missing_id", dropped[dropMissingID],
		"dropped_missing_title", dropped[dropMissingTitle],
		"dropped_red_flag", dropped[dropRedFlag],
	)
	return out, nil
}
