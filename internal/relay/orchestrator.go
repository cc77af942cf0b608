// Package relay delivers content items from a source channel to the user
// who asked for them, copying first and forwarding as a fallback.
package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/hsitotv/relaybot/internal/links"
	"github.com/hsitotv/relaybot/internal/logger"
)

// DefaultPacing is the delay between consecutive items of a batch.
const DefaultPacing = 1200 * time.Millisecond

// DefaultProgressEvery is how often a batch edits its progress message.
const DefaultProgressEvery = 3

// Method names how an item reached the requester.
type Method string

const (
	MethodNone    Method = ""
	MethodCopy    Method = "copy"
	MethodForward Method = "forward"
)

// Platform is the messaging API collaborator. Failures must be *Error values
// so they can be classified.
type Platform interface {
	CheckAccess(ctx context.Context, channelID int64) error
	Copy(ctx context.Context, chatID, fromChatID int64, messageID int, caption string) error
	Forward(ctx context.Context, chatID, fromChatID int64, messageID int) error
}

// Status is an editable message shown to the requester while a job runs.
type Status interface {
	Update(ctx context.Context, text string) error
	Delete(ctx context.Context) error
}

// Reporter opens the status message for a job.
type Reporter interface {
	Start(ctx context.Context, text string) (Status, error)
}

// Recorder counts successful downloads.
type Recorder interface {
	RecordDownload(userID int64) int
}

// Observer receives per-attempt results, typically for metrics.
type Observer interface {
	ObserveRelayAttempt(method Method, err error)
	ObserveDownloadRecorded()
}

// Pacer blocks until the next batch item may be sent.
type Pacer interface {
	Wait(ctx context.Context) error
}

// CountingPolicy controls how batches charge the download counter.
type CountingPolicy int

const (
	// CountPerBatch records one download for a batch that delivered anything.
	CountPerBatch CountingPolicy = iota
	// CountPerItem records one download per delivered item.
	CountPerItem
)

// Job describes one relay request.
type Job struct {
	ID          string
	Source      links.Source
	MessageIDs  []int
	RequesterID int64
	ChatID      int64
}

// State is the lifecycle position of a job.
type State string

const (
	StateStarted    State = "started"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
)

// Outcome summarises a finished job.
type Outcome struct {
	JobID     string
	State     State
	Attempted int
	Succeeded int
	Failed    int
	// Method and FailureKind describe the last item processed.
	Method      Method
	FailureKind ErrorKind
	// Downloads is the requester's counter after the job, zero when nothing
	// was recorded.
	Downloads int
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithPacing sets the delay between batch items.
func WithPacing(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.newPacer = func() Pacer { return newIntervalPacer(d) }
	}
}

// WithPacerFactory replaces how batch pacers are built.
func WithPacerFactory(fn func() Pacer) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.newPacer = fn
		}
	}
}

// WithProgressEvery sets the progress edit cadence.
func WithProgressEvery(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.progressEvery = n
		}
	}
}

// WithCountingPolicy selects how batches are counted.
func WithCountingPolicy(p CountingPolicy) Option {
	return func(o *Orchestrator) {
		o.counting = p
	}
}

// WithObserver attaches an attempt observer.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		o.observer = obs
	}
}

// Orchestrator runs relay jobs. Jobs are independent; items inside a batch
// run sequentially.
type Orchestrator struct {
	logger        *slog.Logger
	platform      Platform
	recorder      Recorder
	observer      Observer
	newPacer      func() Pacer
	progressEvery int
	counting      CountingPolicy

	mu     sync.Mutex
	active map[string]Job
}

// NewOrchestrator builds an orchestrator delivering through platform and
// counting through recorder.
func NewOrchestrator(log *slog.Logger, platform Platform, recorder Recorder, opts ...Option) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	o := &Orchestrator{
		logger:        log.With(slog.String("component", "relay")),
		platform:      platform,
		recorder:      recorder,
		newPacer:      func() Pacer { return newIntervalPacer(DefaultPacing) },
		progressEvery: DefaultProgressEvery,
		active:        make(map[string]Job),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ActiveJobs returns how many jobs are currently running.
func (o *Orchestrator) ActiveJobs() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active)
}

func (o *Orchestrator) begin(job *Job) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	o.mu.Lock()
	o.active[job.ID] = *job
	o.mu.Unlock()
	o.logger.Info("relay job started",
		slog.String("job_id", job.ID),
		slog.Int64("source", job.Source.ChannelID),
		slog.String("kind", string(job.Source.Kind)),
		slog.Int("items", len(job.MessageIDs)),
		slog.Int64("requester", job.RequesterID),
	)
}

func (o *Orchestrator) finish(job Job, out *Outcome) {
	o.mu.Lock()
	delete(o.active, job.ID)
	o.mu.Unlock()
	out.State = StateCompleted
	o.logger.Info("relay job completed",
		slog.String("job_id", job.ID),
		slog.Int("attempted", out.Attempted),
		slog.Int("succeeded", out.Succeeded),
		slog.Int("failed", out.Failed),
	)
}

// Relay dispatches to RelaySingle or RelayBatch by item count.
func (o *Orchestrator) Relay(ctx context.Context, job Job, reporter Reporter, quotaLabel string) Outcome {
	if len(job.MessageIDs) > 1 {
		return o.RelayBatch(ctx, job, reporter)
	}
	return o.RelaySingle(ctx, job, reporter, quotaLabel)
}

// RelaySingle delivers the first id of job. A successful copy or forward
// records exactly one download.
func (o *Orchestrator) RelaySingle(ctx context.Context, job Job, reporter Reporter, quotaLabel string) (out Outcome) {
	// The job outlives the request that started it.
	ctx = context.WithoutCancel(ctx)
	o.begin(&job)
	out = Outcome{JobID: job.ID, State: StateStarted}
	defer o.finish(job, &out)
	if len(job.MessageIDs) == 0 {
		return out
	}
	messageID := job.MessageIDs[0]
	log := o.logger.With(slog.String("job_id", job.ID), slog.Int("message_id", messageID))

	status := o.startStatus(ctx, reporter, processingText(quotaLabel))
	out.State = StateInProgress
	out.Attempted = 1

	o.updateStatus(ctx, status, msgVerifying)
	if err := o.platform.CheckAccess(ctx, job.Source.ChannelID); err != nil {
		log.Error("source channel not accessible", slog.String("error", logger.Truncate(err.Error(), errorDetailLimit)))
		out.Failed = 1
		out.FailureKind = KindOf(err)
		o.updateStatus(ctx, status, msgChannelNoAccess)
		return out
	}

	o.updateStatus(ctx, status, msgCopying)
	copyErr := o.platform.Copy(ctx, job.ChatID, job.Source.ChannelID, messageID, "")
	o.observe(MethodCopy, copyErr)
	if copyErr == nil {
		out.Succeeded = 1
		out.Method = MethodCopy
		out.Downloads = o.record(job.RequesterID)
		if err := status.Delete(ctx); err != nil {
			log.Warn("delete status message failed", slog.Any("error", err))
		}
		return out
	}
	log.Warn("copy failed",
		slog.String("kind", KindOf(copyErr).String()),
		slog.String("error", logger.Truncate(copyErr.Error(), errorDetailLimit)),
	)

	o.updateStatus(ctx, status, msgTryingForward)
	fwdErr := o.platform.Forward(ctx, job.ChatID, job.Source.ChannelID, messageID)
	o.observe(MethodForward, fwdErr)
	if fwdErr == nil {
		out.Succeeded = 1
		out.Method = MethodForward
		out.Downloads = o.record(job.RequesterID)
		o.updateStatus(ctx, status, msgForwarded)
		return out
	}
	log.Error("forward failed",
		slog.String("kind", KindOf(fwdErr).String()),
		slog.String("error", logger.Truncate(fwdErr.Error(), errorDetailLimit)),
	)
	out.Failed = 1
	out.FailureKind = KindOf(fwdErr)
	o.updateStatus(ctx, status, remediationText(fwdErr, job.Source.ChannelID, messageID))
	return out
}

// RelayBatch delivers every id in order, pacing between items. Item failures
// are counted and never stop the batch; the summary is always sent.
func (o *Orchestrator) RelayBatch(ctx context.Context, job Job, reporter Reporter) (out Outcome) {
	ctx = context.WithoutCancel(ctx)
	o.begin(&job)
	out = Outcome{JobID: job.ID, State: StateStarted}
	defer o.finish(job, &out)

	total := len(job.MessageIDs)
	label := job.Source.Kind.Label()
	log := o.logger.With(slog.String("job_id", job.ID))
	status := o.startStatus(ctx, reporter, batchStartText(label, total))
	out.State = StateInProgress
	pacer := o.newPacer()

	for i, messageID := range job.MessageIDs {
		index := i + 1
		if pacer != nil {
			if err := pacer.Wait(ctx); err != nil {
				log.Warn("pacing wait failed", slog.Any("error", err))
			}
		}
		out.Attempted++
		method, err := o.relayItem(ctx, job, messageID, batchCaption(label, index, total))
		out.Method = method
		if err != nil {
			out.Failed++
			out.FailureKind = KindOf(err)
			log.Error("batch item failed",
				slog.Int("index", index),
				slog.Int("message_id", messageID),
				slog.String("kind", KindOf(err).String()),
				slog.String("error", logger.Truncate(err.Error(), errorDetailLimit)),
			)
		} else {
			out.Succeeded++
			if o.counting == CountPerItem {
				out.Downloads = o.record(job.RequesterID)
			}
			log.Info("batch item sent",
				slog.Int("index", index),
				slog.Int("message_id", messageID),
				slog.String("method", string(method)),
			)
		}
		if index%o.progressEvery == 0 || index == total {
			o.updateStatus(ctx, status, batchProgressText(label, index, total, out.Succeeded, out.Failed))
		}
	}

	if o.counting == CountPerBatch && out.Succeeded > 0 {
		out.Downloads = o.record(job.RequesterID)
	}
	o.updateStatus(ctx, status, batchSummaryText(label, total, out.Succeeded, out.Failed))
	return out
}

// relayItem copies messageID, falling back to a forward. The returned error is
// the forward's when both fail.
func (o *Orchestrator) relayItem(ctx context.Context, job Job, messageID int, caption string) (Method, error) {
	err := o.platform.Copy(ctx, job.ChatID, job.Source.ChannelID, messageID, caption)
	o.observe(MethodCopy, err)
	if err == nil {
		return MethodCopy, nil
	}
	err = o.platform.Forward(ctx, job.ChatID, job.Source.ChannelID, messageID)
	o.observe(MethodForward, err)
	if err == nil {
		return MethodForward, nil
	}
	return MethodNone, err
}

func (o *Orchestrator) record(userID int64) int {
	if o.recorder == nil {
		return 0
	}
	n := o.recorder.RecordDownload(userID)
	if o.observer != nil {
		o.observer.ObserveDownloadRecorded()
	}
	return n
}

func (o *Orchestrator) observe(method Method, err error) {
	if o.observer != nil {
		o.observer.ObserveRelayAttempt(method, err)
	}
}

func (o *Orchestrator) startStatus(ctx context.Context, reporter Reporter, text string) Status {
	if reporter == nil {
		return nopStatus{}
	}
	status, err := reporter.Start(ctx, text)
	if err != nil || status == nil {
		o.logger.Warn("open status message failed", slog.Any("error", err))
		return nopStatus{}
	}
	return status
}

func (o *Orchestrator) updateStatus(ctx context.Context, status Status, text string) {
	if err := status.Update(ctx, text); err != nil {
		o.logger.Warn("update status message failed", slog.Any("error", err))
	}
}

type nopStatus struct{}

func (nopStatus) Update(context.Context, string) error { return nil }
func (nopStatus) Delete(context.Context) error         { return nil }

// newIntervalPacer lets one item through immediately and then one per
// interval.
func newIntervalPacer(interval time.Duration) Pacer {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}
