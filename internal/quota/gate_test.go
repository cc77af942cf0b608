package quota

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeCounter map[int64]int

func (c fakeCounter) DownloadsUsed(userID int64) int { return c[userID] }

type fakeEligibility struct {
	eligible bool
	calls    int
	forced   []bool
}

func (f *fakeEligibility) IsEligible(_ context.Context, _ int64, forceCheck bool) bool {
	f.calls++
	f.forced = append(f.forced, forceCheck)
	return f.eligible
}

func TestGateWithinFreeLimit(t *testing.T) {
	t.Parallel()

	for used, want := range map[int]string{0: "Descarga 1/3", 1: "Descarga 2/3", 2: "Descarga 3/3"} {
		verifier := &fakeEligibility{}
		g := NewGate(nil, fakeCounter{1: used}, verifier, 3)
		allowed, label := g.CanDownload(context.Background(), 1)
		assert.True(t, allowed)
		assert.Equal(t, want, label)
		assert.Zero(t, verifier.calls, "no membership check inside the free allowance")
	}
}

func TestGatePastFreeLimitForcesLiveCheck(t *testing.T) {
	t.Parallel()

	verifier := &fakeEligibility{eligible: true}
	g := NewGate(nil, fakeCounter{1: 3}, verifier, 3)
	allowed, label := g.CanDownload(context.Background(), 1)
	assert.True(t, allowed)
	assert.Equal(t, LabelUnlimited, label)
	assert.Equal(t, 1, verifier.calls)
	assert.Equal(t, []bool{true}, verifier.forced)
}

func TestGatePastFreeLimitDeclined(t *testing.T) {
	t.Parallel()

	verifier := &fakeEligibility{eligible: false}
	g := NewGate(nil, fakeCounter{1: 10}, verifier, 3)
	allowed, label := g.CanDownload(context.Background(), 1)
	assert.False(t, allowed)
	assert.Equal(t, LabelLimitReached, label)
	assert.Equal(t, 1, verifier.calls)
}

func TestGateEveryPostQuotaRequestChecksAgain(t *testing.T) {
	t.Parallel()

	verifier := &fakeEligibility{eligible: true}
	g := NewGate(nil, fakeCounter{1: 4}, verifier, 3)
	for i := 0; i < 3; i++ {
		g.CanDownload(context.Background(), 1)
	}
	assert.Equal(t, 3, verifier.calls)
}

func TestGateZeroFreeLimit(t *testing.T) {
	t.Parallel()

	verifier := &fakeEligibility{eligible: false}
	g := NewGate(nil, fakeCounter{}, verifier, -1)
	assert.Equal(t, 0, g.FreeLimit())
	allowed, _ := g.CanDownload(context.Background(), 1)
	assert.False(t, allowed)
}

func TestGateLabel(t *testing.T) {
	t.Parallel()

	g := NewGate(nil, fakeCounter{1: 1, 2: 3}, nil, 3)
	assert.Equal(t, "Descarga 2/3", g.Label(1))
	assert.Equal(t, "3 descargas gratis usadas", g.Label(2))
}
