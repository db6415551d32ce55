package quota

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Period decides where budget windows begin and end.
type Period interface {
	// Start returns the beginning of the window containing t.
	Start(t time.Time) time.Time
	// End returns the exclusive end of the window beginning at start.
	End(start time.Time) time.Time
}

// Monthly is a calendar-month window in UTC, matching how job-search
// providers bill their monthly plans.
type Monthly struct{}

func (Monthly) Start(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func (Monthly) End(start time.Time) time.Time {
	return start.AddDate(0, 1, 0)
}

// Fixed is a window of constant length aligned to the zero time.
type Fixed time.Duration

func (f Fixed) Start(t time.Time) time.Time {
	return t.UTC().Truncate(time.Duration(f))
}

func (f Fixed) End(start time.Time) time.Time {
	return start.Add(time.Duration(f))
}

// ParsePeriod accepts "monthly" or a Go duration such as "24h".
func ParsePeriod(s string) (Period, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "monthly":
		return Monthly{}, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return nil, errors.Wrapf(err, "quota window %q", s)
	}
	if d < time.Second {
		return nil, errors.Newf("quota window %q must be at least 1s", s)
	}
	return Fixed(d), nil
}

// Window is a point-in-time view of the budget.
type Window struct {
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Spent   int       `json:"spent"`
	Allowed int       `json:"allowed"`
}

// Remaining returns how many calls are still available in the window.
func (w Window) Remaining() int {
	return w.Allowed - w.Spent
}
