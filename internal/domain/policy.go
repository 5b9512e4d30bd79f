package domain

import "time"

// Strategy pattern: decide whether a pending destination that received
// another packet gets a fresh solicitation.

type SolicitPolicy interface {
	Allow(e Entry, now time.Time) bool
	Name() string
}

// AlwaysSolicit re-solicits on every replacement.
type AlwaysSolicit struct{}

func (AlwaysSolicit) Name() string { return "always" }

func (AlwaysSolicit) Allow(Entry, time.Time) bool { return true }

// IntervalSolicit re-solicits only when no query went out within Interval.
// An entry that was never polled is always allowed.
type IntervalSolicit struct {
	Interval time.Duration
}

func (p IntervalSolicit) Name() string { return "interval(" + p.Interval.String() + ")" }

func (p IntervalSolicit) Allow(e Entry, now time.Time) bool {
	if !e.Polling || e.LastQuery.IsZero() {
		return true
	}
	return now.Sub(e.LastQuery) >= p.Interval
}

// NewSolicitPolicy picks IntervalSolicit for a positive interval and
// AlwaysSolicit otherwise.
func NewSolicitPolicy(interval time.Duration) SolicitPolicy {
	if interval > 0 {
		return IntervalSolicit{Interval: interval}
	}
	return AlwaysSolicit{}
}
