package healthcheck

import (
	"context"
	"testing"
)

type testChecker struct {
	items []CheckResult
}

func (c *testChecker) ListChecks(ctx context.Context) []CheckResult {
	return c.items
}

func TestAggregatorListChecks(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(
		&testChecker{items: []CheckResult{{ID: "webhook.registration", Status: StatusOK}}},
		nil,
		CheckerFunc(func(context.Context) []CheckResult {
			return []CheckResult{{ID: "dispatch.queue", Status: StatusWarn, Metadata: map[string]any{"depth": 3}}}
		}),
	)

	items := agg.ListChecks(context.Background())
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].ID != "dispatch.queue" || items[1].ID != "webhook.registration" {
		t.Fatalf("unexpected order: %s, %s", items[0].ID, items[1].ID)
	}
	if got := Overall(items); got != StatusWarn {
		t.Fatalf("unexpected overall: %s", got)
	}
}

func TestAggregatorNil(t *testing.T) {
	t.Parallel()

	var agg *Aggregator
	if items := agg.ListChecks(context.Background()); len(items) != 0 {
		t.Fatalf("expected empty items, got %d", len(items))
	}
}

func TestOverall(t *testing.T) {
	t.Parallel()

	if got := Overall(nil); got != StatusOK {
		t.Fatalf("empty set should be ok, got %s", got)
	}
	items := []CheckResult{{Status: StatusOK}, {Status: StatusError}, {Status: StatusWarn}}
	if got := Overall(items); got != StatusError {
		t.Fatalf("expected error, got %s", got)
	}
}
