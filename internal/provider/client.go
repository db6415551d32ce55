// Package provider fetches listings from third-party job-search APIs,
// normalises them into model.ExternalListing and classifies failures.
// Every fetch is paid for with a quota reservation before any network call.
package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"

	"jobboard/ingestion-service/internal/model"
)

const (
	httpTimeout  = 15 * time.Second
	maxBodyBytes = 8 << 20
)

// Client is one external job-search API.
type Client interface {
	// Name identifies the provider, e.g. "jsearch". Used as the listing source.
	Name() string
	// Cost is the number of quota calls one Search for q consumes.
	Cost(q model.Query) int
	// Search performs the network calls for q. Errors are *Error.
	Search(ctx context.Context, q model.Query) ([]model.ExternalListing, error)
}

// transport is the shared HTTP plumbing of the clients: pacing, status
// classification and JSON decoding.
type transport struct {
	provider string
	client   *http.Client
	limiter  *rate.Limiter
}

func newTransport(provider string, hc *http.Client, limiter *rate.Limiter) transport {
	if hc == nil {
		hc = &http.Client{Timeout: httpTimeout}
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return transport{provider: provider, client: hc, limiter: limiter}
}

// getJSON performs req and decodes a 200 response body into out.
func (t transport) getJSON(req *http.Request, out any) error {
	ctx := req.Context()
	if err := t.limiter.Wait(ctx); err != nil {
		return classifyTransport(t.provider, err)
	}

	req.Header.Set("Accept", "application/json")
	resp, err := t.client.Do(req)
	if err != nil {
		return classifyTransport(t.provider, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return classifyTransport(t.provider, errors.Wrap(err, "read body"))
	}

	if resp.StatusCode != http.StatusOK {
		return t.statusError(resp, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &Error{Kind: KindMalformed, Provider: t.provider, StatusCode: resp.StatusCode,
			Err: errors.Wrap(err, "json unmarshal")}
	}
	return nil
}

func (t transport) statusError(resp *http.Response, body []byte) *Error {
	snippet := strings.TrimSpace(string(body))
	if len(snippet) > 512 {
		snippet = snippet[:512]
	}
	e := &Error{
		Kind:       KindUnavailable,
		Provider:   t.provider,
		StatusCode: resp.StatusCode,
		Err:        errors.Newf("%s returned %d: %s", t.provider, resp.StatusCode, snippet),
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		e.Kind = KindRateLimited
		e.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	}
	return e
}

// parseRetryAfter understands the delta-seconds form only.
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
