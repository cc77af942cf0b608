// Package membership verifies that users belong to every required channel and
// caches successful verifications for a bounded window.
package membership

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultWindow is how long a successful verification is trusted.
const DefaultWindow = time.Hour

var errNoChecker = errors.New("membership checker not configured")

// Checker performs one live membership lookup.
type Checker interface {
	IsMember(ctx context.Context, channelID, userID int64) (bool, error)
}

// Observer receives the outcome of each live check. Implementations must be
// safe for concurrent use.
type Observer interface {
	ObserveMembershipCheck(eligible bool, err error)
}

// Verifier caches verification records per user. A record exists only after
// a successful live check and is dropped by any failed one.
type Verifier struct {
	logger   *slog.Logger
	checker  Checker
	channels []int64
	window   time.Duration
	now      func() time.Time
	observer Observer

	mu      sync.RWMutex
	records map[int64]time.Time
}

// Option customises a Verifier.
type Option func(*Verifier)

// WithWindow overrides the verification window.
func WithWindow(d time.Duration) Option {
	return func(v *Verifier) {
		if d > 0 {
			v.window = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// WithObserver reports live check outcomes, typically to metrics.
func WithObserver(o Observer) Option {
	return func(v *Verifier) {
		v.observer = o
	}
}

// NewVerifier builds a verifier requiring membership of every channel in
// channels.
func NewVerifier(log *slog.Logger, checker Checker, channels []int64, opts ...Option) *Verifier {
	if log == nil {
		log = slog.Default()
	}
	v := &Verifier{
		logger:   log.With(slog.String("component", "membership_verifier")),
		checker:  checker,
		channels: append([]int64(nil), channels...),
		window:   DefaultWindow,
		now:      time.Now,
		records:  make(map[int64]time.Time),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Window returns the verification window.
func (v *Verifier) Window() time.Duration { return v.window }

// Channels returns the required channel ids.
func (v *Verifier) Channels() []int64 { return append([]int64(nil), v.channels...) }

// IsEligible reports whether userID is a member of every required channel.
// Without forceCheck a record younger than the window is a cache hit. Otherwise
// every channel is queried; a lookup error counts as "not a member".
func (v *Verifier) IsEligible(ctx context.Context, userID int64, forceCheck bool) bool {
	if !forceCheck && v.cachedFresh(userID) {
		return true
	}
	eligible, err := v.checkAll(ctx, userID)
	if v.observer != nil {
		v.observer.ObserveMembershipCheck(eligible, err)
	}
	v.mu.Lock()
	if eligible {
		v.records[userID] = v.now()
	} else {
		delete(v.records, userID)
	}
	v.mu.Unlock()
	if err != nil {
		v.logger.Warn("membership check failed",
			slog.Int64("user_id", userID),
			slog.Any("error", err),
		)
	}
	return eligible
}

func (v *Verifier) cachedFresh(userID int64) bool {
	v.mu.RLock()
	verifiedAt, ok := v.records[userID]
	v.mu.RUnlock()
	return ok && v.now().Sub(verifiedAt) <= v.window
}

// checkAll queries each channel independently; one failing lookup does not
// stop the others. The first lookup error is returned alongside the result.
func (v *Verifier) checkAll(ctx context.Context, userID int64) (bool, error) {
	if len(v.channels) == 0 {
		return true, nil
	}
	if v.checker == nil {
		return false, errNoChecker
	}
	results := make([]bool, len(v.channels))
	var g errgroup.Group
	for i, channelID := range v.channels {
		g.Go(func() error {
			member, err := v.checker.IsMember(ctx, channelID, userID)
			if err != nil {
				return err
			}
			results[i] = member
			return nil
		})
	}
	err := g.Wait()
	if err != nil {
		return false, err
	}
	for _, member := range results {
		if !member {
			return false, nil
		}
	}
	return true, nil
}

// PurgeExpired drops records older than window*graceMultiplier and returns how
// many were removed.
func (v *Verifier) PurgeExpired(now time.Time, graceMultiplier int) int {
	if graceMultiplier < 1 {
		graceMultiplier = 1
	}
	cutoff := v.window * time.Duration(graceMultiplier)
	v.mu.Lock()
	defer v.mu.Unlock()
	removed := 0
	for userID, verifiedAt := range v.records {
		if now.Sub(verifiedAt) > cutoff {
			delete(v.records, userID)
			removed++
		}
	}
	return removed
}

// VerifiedCount returns how many users currently hold a record.
func (v *Verifier) VerifiedCount() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.records)
}

// VerifiedAt returns when userID last passed a live check.
func (v *Verifier) VerifiedAt(userID int64) (time.Time, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	t, ok := v.records[userID]
	return t, ok
}
