// Package janitor runs the periodic maintenance jobs: purging stale
// verification records and pinging the bot's own health endpoint.
package janitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hsitotv/relaybot/internal/healthcheck"
)

// Purger drops verification records older than the window times the grace
// multiplier.
type Purger interface {
	PurgeExpired(now time.Time, graceMultiplier int) int
}

// Observer receives job results.
type Observer interface {
	ObservePurge(removed int)
	ObserveKeepAlive(err error)
}

// Options configures the jobs. An empty KeepAliveSchedule or KeepAliveURL
// disables the self ping.
type Options struct {
	PurgeSchedule     string
	KeepAliveSchedule string
	KeepAliveURL      string
	KeepAliveTimeout  time.Duration
	GraceMultiplier   int
}

// Janitor owns the cron scheduler.
type Janitor struct {
	logger   *slog.Logger
	purger   Purger
	observer Observer
	opts     Options
	client   *http.Client
	cron     *cron.Cron
	now      func() time.Time

	mu          sync.Mutex
	running     bool
	lastPurge   time.Time
	lastRemoved int
	lastPing    time.Time
	lastPingErr error
}

// New registers the jobs. Invalid schedules are reported here rather than
// at Start.
func New(log *slog.Logger, purger Purger, opts Options, observer Observer) (*Janitor, error) {
	if log == nil {
		log = slog.Default()
	}
	if purger == nil {
		return nil, errors.New("janitor purger is required")
	}
	if opts.GraceMultiplier < 1 {
		opts.GraceMultiplier = 1
	}
	if opts.KeepAliveTimeout <= 0 {
		opts.KeepAliveTimeout = 10 * time.Second
	}
	log = log.With(slog.String("component", "janitor"))
	cronLog := cronLogger{log: log}
	j := &Janitor{
		logger:   log,
		purger:   purger,
		observer: observer,
		opts:     opts,
		client:   &http.Client{Timeout: opts.KeepAliveTimeout},
		now:      time.Now,
		cron: cron.New(
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
	}
	if _, err := j.cron.AddFunc(opts.PurgeSchedule, func() { j.PurgeNow() }); err != nil {
		return nil, fmt.Errorf("purge schedule %q: %w", opts.PurgeSchedule, err)
	}
	if j.keepAliveEnabled() {
		if _, err := j.cron.AddFunc(opts.KeepAliveSchedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), opts.KeepAliveTimeout)
			defer cancel()
			_ = j.PingNow(ctx)
		}); err != nil {
			return nil, fmt.Errorf("keepalive schedule %q: %w", opts.KeepAliveSchedule, err)
		}
	}
	return j, nil
}

func (j *Janitor) keepAliveEnabled() bool {
	return strings.TrimSpace(j.opts.KeepAliveSchedule) != "" && strings.TrimSpace(j.opts.KeepAliveURL) != ""
}

// Start begins running the jobs in the background.
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return nil
	}
	j.cron.Start()
	j.running = true
	j.logger.Info("janitor started",
		slog.String("purge_schedule", j.opts.PurgeSchedule),
		slog.Bool("keepalive", j.keepAliveEnabled()),
	)
	return nil
}

// Stop halts scheduling and waits for a running job to return or ctx to end.
func (j *Janitor) Stop(ctx context.Context) error {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return nil
	}
	j.running = false
	j.mu.Unlock()

	done := j.cron.Stop()
	select {
	case <-done.Done():
		j.logger.Info("janitor stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PurgeNow removes expired verification records and returns how many went.
func (j *Janitor) PurgeNow() int {
	now := j.now()
	removed := j.purger.PurgeExpired(now, j.opts.GraceMultiplier)
	j.mu.Lock()
	j.lastPurge = now
	j.lastRemoved = removed
	j.mu.Unlock()
	if j.observer != nil {
		j.observer.ObservePurge(removed)
	}
	if removed > 0 {
		j.logger.Info("purged expired verifications", slog.Int("removed", removed))
	}
	return removed
}

// PingNow issues one GET against the keep-alive URL. Any 2xx answer counts
// as success.
func (j *Janitor) PingNow(ctx context.Context) error {
	err := j.ping(ctx)
	j.mu.Lock()
	j.lastPing = j.now()
	j.lastPingErr = err
	j.mu.Unlock()
	if j.observer != nil {
		j.observer.ObserveKeepAlive(err)
	}
	if err != nil {
		j.logger.Warn("keepalive ping failed", slog.Any("error", err))
	} else {
		j.logger.Debug("keepalive ping ok")
	}
	return err
}

func (j *Janitor) ping(ctx context.Context) error {
	url := strings.TrimSpace(j.opts.KeepAliveURL)
	if url == "" {
		return errors.New("keepalive url is not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build keepalive request: %w", err)
	}
	resp, err := j.client.Do(req)
	if err != nil {
		return fmt.Errorf("keepalive request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("keepalive status %d", resp.StatusCode)
	}
	return nil
}

// ListChecks reports the last run of each job.
func (j *Janitor) ListChecks(ctx context.Context) []healthcheck.CheckResult {
	j.mu.Lock()
	defer j.mu.Unlock()

	purge := healthcheck.CheckResult{
		ID:       "janitor.purge",
		Type:     "janitor.purge",
		Status:   healthcheck.StatusUnknown,
		Summary:  "Purge has not run yet.",
		Metadata: map[string]any{"schedule": j.opts.PurgeSchedule},
	}
	if !j.lastPurge.IsZero() {
		purge.Status = healthcheck.StatusOK
		purge.Summary = fmt.Sprintf("Last purge removed %d records.", j.lastRemoved)
		purge.Metadata["last_run"] = j.lastPurge.UTC().Format(time.RFC3339)
	}
	checks := []healthcheck.CheckResult{purge}
	if !j.keepAliveEnabled() {
		return checks
	}

	ping := healthcheck.CheckResult{
		ID:       "janitor.keepalive",
		Type:     "janitor.keepalive",
		Status:   healthcheck.StatusUnknown,
		Summary:  "Keep-alive has not run yet.",
		Metadata: map[string]any{"schedule": j.opts.KeepAliveSchedule},
	}
	switch {
	case j.lastPing.IsZero():
	case j.lastPingErr != nil:
		ping.Status = healthcheck.StatusWarn
		ping.Summary = "Last keep-alive ping failed."
		ping.Detail = j.lastPingErr.Error()
		ping.Metadata["last_run"] = j.lastPing.UTC().Format(time.RFC3339)
	default:
		ping.Status = healthcheck.StatusOK
		ping.Summary = "Last keep-alive ping succeeded."
		ping.Metadata["last_run"] = j.lastPing.UTC().Format(time.RFC3339)
	}
	return append(checks, ping)
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(keysAndValues, slog.Any("error", err))...)
}
