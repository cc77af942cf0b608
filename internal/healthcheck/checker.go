// Package healthcheck collects runtime checks reported on /health.
package healthcheck

import (
	"context"
	"sort"
)

const (
	// StatusOK indicates check passed.
	StatusOK = "ok"
	// StatusWarn indicates check completed with warning.
	StatusWarn = "warn"
	// StatusError indicates check failed.
	StatusError = "error"
	// StatusUnknown indicates check result is not yet known.
	StatusUnknown = "unknown"
)

// CheckResult is one runtime check item produced by a checker.
type CheckResult struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Status   string         `json:"status"`
	Summary  string         `json:"summary"`
	Detail   string         `json:"detail,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Checker evaluates one or more runtime checks.
type Checker interface {
	ListChecks(ctx context.Context) []CheckResult
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) []CheckResult

// ListChecks calls f.
func (f CheckerFunc) ListChecks(ctx context.Context) []CheckResult {
	return f(ctx)
}

// Aggregator runs a set of checkers.
type Aggregator struct {
	checkers []Checker
}

// NewAggregator creates an aggregator over checkers. Nil entries are skipped.
func NewAggregator(checkers ...Checker) *Aggregator {
	items := make([]Checker, 0, len(checkers))
	for _, c := range checkers {
		if c != nil {
			items = append(items, c)
		}
	}
	return &Aggregator{checkers: items}
}

// ListChecks evaluates every checker and returns the results ordered by ID.
func (a *Aggregator) ListChecks(ctx context.Context) []CheckResult {
	if a == nil {
		return []CheckResult{}
	}
	result := []CheckResult{}
	for _, c := range a.checkers {
		result = append(result, c.ListChecks(ctx)...)
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Overall folds results into the worst status. An empty set is ok.
func Overall(results []CheckResult) string {
	overall := StatusOK
	for _, item := range results {
		if severity(item.Status) > severity(overall) {
			overall = item.Status
		}
	}
	return overall
}

func severity(status string) int {
	switch status {
	case StatusOK:
		return 0
	case StatusUnknown:
		return 1
	case StatusWarn:
		return 2
	case StatusError:
		return 3
	default:
		return 1
	}
}
