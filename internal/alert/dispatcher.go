// Package alert fans a committed zone-exit event out to the patient's linked
// caregivers. Delivery is best effort: outcomes are logged and metered, never
// returned to the request that detected the exit.
package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"safezone/internal/alert/guard"
	"safezone/internal/alert/publisher"
	"safezone/internal/alert/push"
	"safezone/internal/caregiver"
	"safezone/internal/geofence/models"
	id "safezone/pkg/domain"
	"safezone/pkg/requestcontext"
)

const (
	DefaultMaxAttempts    = 3
	DefaultAttemptTimeout = 5 * time.Second
	DefaultConcurrency    = 8
	DefaultGuardTTL       = 24 * time.Hour

	pushTitle     = "Patient outside safe zone"
	pushChannelID = "emergency-alerts"
)

type Directory interface {
	Patient(ctx context.Context, patientID id.PatientID) (*caregiver.Patient, error)
	LinkedCaregivers(ctx context.Context, patientID id.PatientID) ([]caregiver.Caregiver, error)
}

// Sender delivers one push message and returns the provider's ticket ID.
type Sender interface {
	Send(ctx context.Context, msg push.Message) (string, error)
}

// Guard claims an alert key. A false result means the key was already
// dispatched.
type Guard interface {
	Claim(ctx context.Context, key string) (bool, error)
}

type Publisher interface {
	Publish(ctx context.Context, event models.AlertEvent) error
}

type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// Result is the delivery outcome for one caregiver.
type Result struct {
	CaregiverID id.UserID
	Outcome     Outcome
	Attempts    int
	TicketID    string
	Err         error
}

// Report summarizes one Dispatch call.
type Report struct {
	Key       string
	Duplicate bool
	Results   []Result
}

func (r Report) count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

func (r Report) Delivered() int { return r.count(OutcomeDelivered) }
func (r Report) Failed() int    { return r.count(OutcomeFailed) }
func (r Report) Skipped() int   { return r.count(OutcomeSkipped) }

var ErrClosed = errors.New("alert dispatcher closed")

type Dispatcher struct {
	directory Directory
	sender    Sender
	guard     Guard
	publisher Publisher
	logger    *slog.Logger
	metrics   *Metrics

	maxAttempts    int
	attemptTimeout time.Duration
	baseBackoff    time.Duration
	maxBackoff     time.Duration
	concurrency    int
	sleep          func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	closed   bool
	wg       sync.WaitGroup
	shutdown context.Context
	abort    context.CancelFunc
}

type Option func(*Dispatcher)

func WithGuard(g Guard) Option {
	return func(d *Dispatcher) {
		if g != nil {
			d.guard = g
		}
	}
}

func WithPublisher(p Publisher) Option {
	return func(d *Dispatcher) {
		if p != nil {
			d.publisher = p
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

func WithMaxAttempts(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

func WithAttemptTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.attemptTimeout = t
		}
	}
}

// WithBackoff sets the delay before the first retry and its cap. The delay
// doubles on every retry.
func WithBackoff(base, maxWait time.Duration) Option {
	return func(d *Dispatcher) {
		if base > 0 {
			d.baseBackoff = base
		}
		if maxWait > 0 {
			d.maxBackoff = maxWait
		}
	}
}

func WithConcurrency(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

func New(directory Directory, sender Sender, opts ...Option) *Dispatcher {
	shutdown, abort := context.WithCancel(context.Background())
	d := &Dispatcher{
		directory:      directory,
		sender:         sender,
		guard:          guard.NewInMemoryGuard(DefaultGuardTTL),
		publisher:      publisher.Noop{},
		logger:         slog.Default(),
		maxAttempts:    DefaultMaxAttempts,
		attemptTimeout: DefaultAttemptTimeout,
		baseBackoff:    500 * time.Millisecond,
		maxBackoff:     10 * time.Second,
		concurrency:    DefaultConcurrency,
		sleep:          sleepCtx,
		shutdown:       shutdown,
		abort:          abort,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DispatchAsync runs Dispatch in the background on a context detached from
// the caller's cancellation. Close waits for it.
func (d *Dispatcher) DispatchAsync(ctx context.Context, event models.AlertEvent) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.ErrorContext(ctx, "alert dropped: dispatcher closed",
			"alert_id", event.Key(),
			"patient_id", event.PatientID.String(),
		)
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	dctx, cancel := context.WithCancel(requestcontext.Detach(ctx))
	stop := context.AfterFunc(d.shutdown, cancel)
	d.metrics.AddInFlight(1)
	go func() {
		defer d.wg.Done()
		defer d.metrics.AddInFlight(-1)
		defer cancel()
		defer stop()
		d.Dispatch(dctx, event)
	}()
}

// Close stops accepting new alerts and waits for in-flight dispatches. If ctx
// ends first the remaining dispatches are cancelled.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.abort()
		return nil
	case <-ctx.Done():
		d.abort()
		<-done
		return fmt.Errorf("drain alert dispatcher: %w", ctx.Err())
	}
}

// Dispatch claims the alert key, publishes the event and notifies every
// linked caregiver. One caregiver's failure never blocks another, and every
// collaborator call is bounded by the attempt timeout. The event is published
// alongside the fan-out so a stalled stream cannot hold back notifications.
func (d *Dispatcher) Dispatch(ctx context.Context, event models.AlertEvent) Report {
	key := event.Key()
	report := Report{Key: key}
	logger := d.logger.With(
		"alert_id", key,
		"patient_id", event.PatientID.String(),
		"request_id", requestcontext.RequestID(ctx),
	)

	claimed, err := d.claim(ctx, key)
	switch {
	case err != nil:
		d.metrics.IncGuardErrors()
		logger.WarnContext(ctx, "alert guard unavailable, dispatching anyway", "error", err)
	case !claimed:
		d.metrics.IncDispatch("duplicate")
		logger.InfoContext(ctx, "alert already dispatched")
		report.Duplicate = true
		return report
	}

	if patient, err := d.patient(ctx, event); err != nil {
		logger.WarnContext(ctx, "failed to resolve patient name", "error", err)
	} else {
		event.PatientName = patient.DisplayName()
	}

	published := make(chan struct{})
	go func() {
		defer close(published)
		pctx, cancel := context.WithTimeout(ctx, d.attemptTimeout)
		defer cancel()
		if err := d.publisher.Publish(pctx, event); err != nil {
			d.metrics.IncPublishFailures()
			logger.WarnContext(ctx, "failed to publish alert event", "error", err)
		}
	}()
	defer func() { <-published }()

	caregivers, err := d.caregivers(ctx, event)
	if err != nil {
		d.metrics.IncDispatch("directory_error")
		logger.ErrorContext(ctx, "failed to resolve caregivers", "error", err)
		return report
	}
	d.metrics.IncDispatch("dispatched")

	report.Results = make([]Result, len(caregivers))
	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i, cg := range caregivers {
		if !cg.HasPushToken() {
			report.Results[i] = Result{CaregiverID: cg.ID, Outcome: OutcomeSkipped}
			d.metrics.ObserveDelivery(OutcomeSkipped, 0, time.Now())
			continue
		}
		g.Go(func() error {
			report.Results[i] = d.deliver(ctx, logger, event, cg)
			return nil
		})
	}
	_ = g.Wait()

	logger.InfoContext(ctx, "alert dispatched",
		"caregivers", len(caregivers),
		"delivered", report.Delivered(),
		"failed", report.Failed(),
		"skipped", report.Skipped(),
	)
	return report
}

func (d *Dispatcher) claim(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, d.attemptTimeout)
	defer cancel()
	return d.guard.Claim(ctx, key)
}

func (d *Dispatcher) patient(ctx context.Context, event models.AlertEvent) (*caregiver.Patient, error) {
	ctx, cancel := context.WithTimeout(ctx, d.attemptTimeout)
	defer cancel()
	return d.directory.Patient(ctx, event.PatientID)
}

func (d *Dispatcher) caregivers(ctx context.Context, event models.AlertEvent) ([]caregiver.Caregiver, error) {
	ctx, cancel := context.WithTimeout(ctx, d.attemptTimeout)
	defer cancel()
	return d.directory.LinkedCaregivers(ctx, event.PatientID)
}

func (d *Dispatcher) deliver(ctx context.Context, logger *slog.Logger, event models.AlertEvent, cg caregiver.Caregiver) Result {
	start := time.Now()
	res := Result{CaregiverID: cg.ID, Outcome: OutcomeFailed}
	msg := NewMessage(event, cg.PushToken)

	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		res.Attempts = attempt
		actx, cancel := context.WithTimeout(ctx, d.attemptTimeout)
		ticket, err := d.sender.Send(actx, msg)
		cancel()
		if err == nil {
			res.Outcome = OutcomeDelivered
			res.TicketID = ticket
			res.Err = nil
			break
		}
		res.Err = err
		if !push.IsRetryable(err) || attempt == d.maxAttempts {
			break
		}
		wait := d.backoff(attempt)
		logger.DebugContext(ctx, "retrying push delivery",
			"caregiver_id", cg.ID.String(),
			"attempt", attempt,
			"backoff", wait,
			"error", err,
		)
		if err := d.sleep(ctx, wait); err != nil {
			res.Err = errors.Join(res.Err, err)
			break
		}
	}

	d.metrics.ObserveDelivery(res.Outcome, res.Attempts, start)
	if res.Outcome == OutcomeFailed {
		logger.WarnContext(ctx, "push delivery failed",
			"caregiver_id", cg.ID.String(),
			"attempts", res.Attempts,
			"retryable", push.IsRetryable(res.Err),
			"error", res.Err,
		)
	}
	return res
}

// backoff doubles from baseBackoff per retry, capped at maxBackoff.
func (d *Dispatcher) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 10 {
		attempt = 10
	}
	wait := d.baseBackoff * time.Duration(1<<(attempt-1))
	if wait > d.maxBackoff {
		wait = d.maxBackoff
	}
	return wait
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NewMessage builds the caregiver notification for event.
func NewMessage(event models.AlertEvent, token string) push.Message {
	name := event.PatientName
	if name == "" {
		name = "Your patient"
	}
	return push.Message{
		To:        token,
		Title:     pushTitle,
		Body:      name + " has left the safe zone",
		Sound:     "default",
		Priority:  "high",
		ChannelID: pushChannelID,
		Data: map[string]any{
			"type":         publisher.EventTypeZoneExit,
			"alert_id":     event.Key(),
			"patient_id":   event.PatientID.String(),
			"patient_name": event.PatientName,
			"latitude":     event.Coordinate.Latitude(),
			"longitude":    event.Coordinate.Longitude(),
			"recorded_at":  event.RecordedAt.UTC().Format(time.RFC3339),
		},
	}
}
