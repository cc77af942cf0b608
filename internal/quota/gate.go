package quota

import (
	"context"
	"fmt"
	"log/slog"
)

const (
	LabelUnlimited    = "Descargas ilimitadas"
	LabelLimitReached = "Límite alcanzado"
)

// Counter is the part of the ledger the gate reads.
type Counter interface {
	DownloadsUsed(userID int64) int
}

// Eligibility answers whether a user passed the membership check.
type Eligibility interface {
	IsEligible(ctx context.Context, userID int64, forceCheck bool) bool
}

// Gate combines the free allowance with membership verification.
type Gate struct {
	logger    *slog.Logger
	counter   Counter
	verifier  Eligibility
	freeLimit int
}

// NewGate builds a gate granting freeLimit downloads before membership is
// required.
func NewGate(log *slog.Logger, counter Counter, verifier Eligibility, freeLimit int) *Gate {
	if log == nil {
		log = slog.Default()
	}
	if freeLimit < 0 {
		freeLimit = 0
	}
	return &Gate{
		logger:    log.With(slog.String("component", "quota_gate")),
		counter:   counter,
		verifier:  verifier,
		freeLimit: freeLimit,
	}
}

// FreeLimit returns the configured free allowance.
func (g *Gate) FreeLimit() int { return g.freeLimit }

// CanDownload decides whether userID may download now. Within the free
// allowance the label is "Descarga n/limit" for the upcoming download. Past it,
// membership is always re-checked live; the cached verification is never
// trusted once the allowance is spent.
func (g *Gate) CanDownload(ctx context.Context, userID int64) (bool, string) {
	used := g.counter.DownloadsUsed(userID)
	if used < g.freeLimit {
		return true, fmt.Sprintf("Descarga %d/%d", used+1, g.freeLimit)
	}
	if g.verifier != nil && g.verifier.IsEligible(ctx, userID, true) {
		return true, LabelUnlimited
	}
	g.logger.Info("download declined",
		slog.Int64("user_id", userID),
		slog.Int("downloads_used", used),
	)
	return false, LabelLimitReached
}

// Label returns the quota label without performing a membership check.
func (g *Gate) Label(userID int64) string {
	used := g.counter.DownloadsUsed(userID)
	if used < g.freeLimit {
		return fmt.Sprintf("Descarga %d/%d", used+1, g.freeLimit)
	}
	return fmt.Sprintf("%d descargas gratis usadas", g.freeLimit)
}
