// Package processor drains the event queue into jobs and runs jobs through their sync adapters,
// retrying failures with a linear delay and dead-lettering jobs that exhaust their attempts.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"storefront-pipeline/pipeline/internal/jobs"
	"storefront-pipeline/pipeline/internal/translate"
	"storefront-pipeline/shared/config"
	"storefront-pipeline/shared/events"
	"storefront-pipeline/shared/logx"
	"storefront-pipeline/shared/metricsx"
	"storefront-pipeline/shared/queuex"
	"storefront-pipeline/shared/workflow"
)

var (
	ErrAlreadyRunning = errors.New("processor already running")
	ErrNotRunning     = errors.New("processor not running")
)

type Options struct {
	// Tick drives both the event cycle and the job cycle.
	Tick time.Duration
	// PopTimeout bounds each blocking pop, and so how long Stop waits for an idle loop.
	PopTimeout  time.Duration
	MaxAttempts int
	// RetryDelay is multiplied by the attempt count: attempt 1 waits 1x, attempt 2 waits 2x.
	RetryDelay         time.Duration
	QueueDepthInterval time.Duration
	// Locker, when set, lets only one process promote delayed jobs per tick.
	Locker Locker
	Logger logx.Logger
	Now    func() time.Time
}

// Locker is a non-blocking lease. ok is false when another holder has it.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(context.Context) error, ok bool, err error)
}

const promoteLockKey = "lock:jobs:promote"

func OptionsFrom(cfg config.Config, log logx.Logger) Options {
	return Options{
		Tick:               cfg.PipelineTick,
		PopTimeout:         cfg.PopTimeout,
		MaxAttempts:        cfg.JobMaxAttempts,
		RetryDelay:         cfg.JobRetryDelay,
		QueueDepthInterval: cfg.QueueDepthInterval,
		Logger:             log,
	}
}

func (o Options) withDefaults() Options {
	if o.Tick <= 0 {
		o.Tick = 5 * time.Second
	}
	if o.PopTimeout <= 0 {
		o.PopTimeout = time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = jobs.DefaultMaxAttempts
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 30 * time.Second
	}
	if o.QueueDepthInterval <= 0 {
		o.QueueDepthInterval = 2 * o.Tick
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Processor owns every job state transition. Instances share nothing but the store, so several
// processes may run against the same queues; delivery is at-least-once and best-effort ordered.
type Processor struct {
	store    queuex.Store
	adapters Adapters
	opts     Options
	log      logx.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

func New(store queuex.Store, adapters Adapters, opts Options) (*Processor, error) {
	if store == nil {
		return nil, errors.New("queue store is required")
	}
	if err := adapters.validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	return &Processor{
		store:    store,
		adapters: adapters,
		opts:     opts,
		log:      opts.Logger.With(slog.String("component", "processor")),
	}, nil
}

// Start launches the event loop, the job loop and the queue depth sampler. Each runs one cycle
// immediately and then once per tick.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	// Each run has its own WaitGroup so a restart never reuses one a timed-out Stop still waits on.
	var wg sync.WaitGroup
	wg.Add(3)
	go p.loop(runCtx, &wg, "event_cycle", p.opts.Tick, func(ctx context.Context) error {
		_, err := p.RunEventCycle(ctx)
		return err
	})
	go p.loop(runCtx, &wg, "job_cycle", p.opts.Tick, func(ctx context.Context) error {
		_, err := p.RunJobCycle(ctx)
		return err
	})
	go p.loop(runCtx, &wg, "queue_depth", p.opts.QueueDepthInterval, p.recordDepths)
	done := make(chan struct{})
	p.done = done
	go func() {
		wg.Wait()
		close(done)
	}()

	p.log.Info(ctx, "processor_start", "processor started",
		slog.Int64("tick_ms", p.opts.Tick.Milliseconds()),
		slog.Int("max_attempts", p.opts.MaxAttempts),
		slog.Int64("retry_delay_ms", p.opts.RetryDelay.Milliseconds()),
	)
	return nil
}

// Stop ends both loops and waits for the item each one is working on to finish. It returns
// ctx.Err() if ctx expires first; the loops still stop on their own afterwards.
func (p *Processor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return ErrNotRunning
	}
	p.cancel()
	p.running = false
	done := p.done
	p.mu.Unlock()

	select {
	case <-done:
		p.log.Info(ctx, "processor_stop", "processor stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Processor) loop(ctx context.Context, wg *sync.WaitGroup, name string, every time.Duration, cycle func(context.Context) error) {
	defer wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		if err := cycle(ctx); err != nil && ctx.Err() == nil {
			// Store outages are retried on the next tick rather than crashing the process.
			p.log.Error(ctx, "cycle_failed", "processor cycle failed",
				slog.String("error_code", "STORE_UNAVAILABLE"),
				slog.String("error", err.Error()),
				slog.String("cycle", name),
			)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunEventCycle pops events until the queue stays empty for one pop timeout or ctx is cancelled,
// and returns how many events were translated.
func (p *Processor) RunEventCycle(ctx context.Context) (int, error) {
	// Store calls and translation run on a context that outlives cancellation so a popped item is
	// never abandoned halfway.
	work := context.WithoutCancel(ctx)
	handled := 0
	for ctx.Err() == nil {
		raw, ok, err := p.store.Pop(work, queuex.EventsQueue, p.opts.PopTimeout)
		if err != nil {
			metricsx.IncStoreError("pop")
			return handled, fmt.Errorf("pop %s: %w", queuex.EventsQueue, err)
		}
		if !ok {
			return handled, nil
		}
		p.handleEvent(work, raw)
		handled++
	}
	return handled, nil
}

func (p *Processor) handleEvent(ctx context.Context, raw string) {
	e, err := events.Decode(raw)
	if err == nil {
		err = e.Validate()
	}
	if err != nil {
		p.log.Error(ctx, "event_malformed", "malformed event dropped",
			slog.String("error_code", "VALIDATION_ERROR"),
			slog.String("error", err.Error()),
			slog.String("raw", truncate(raw, 512)),
		)
		return
	}

	specs := translate.Translate(e)
	now := p.opts.Now()
	for i, spec := range specs {
		job, err := jobs.NewJob(spec, p.opts.MaxAttempts, now)
		if err != nil {
			p.log.Error(ctx, "job_build_failed", "job dropped",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
				slog.String("event_id", e.ID),
				slog.String("job_type", string(spec.Type)),
			)
			continue
		}
		if err := p.enqueue(ctx, job, spec.Priority); err != nil {
			metricsx.IncStoreError("push")
			p.log.Error(ctx, "job_enqueue_failed", "event requeued after partial fan-out",
				slog.String("error_code", "STORE_UNAVAILABLE"),
				slog.String("error", err.Error()),
				slog.String("event_id", e.ID),
				slog.Int("jobs_enqueued", i),
				slog.Int("jobs_total", len(specs)),
			)
			// Adapters dedupe on payload, so re-translating the whole event is safe.
			if perr := p.store.PushFront(ctx, queuex.EventsQueue, raw); perr != nil {
				p.log.Error(ctx, "event_lost", "event could not be requeued",
					slog.String("error_code", "STORE_UNAVAILABLE"),
					slog.String("error", perr.Error()),
					slog.String("raw", truncate(raw, 512)),
				)
			}
			return
		}
	}
	p.log.Debug(ctx, "event_translated", "event translated",
		slog.String("event_id", e.ID),
		slog.String("event_type", string(e.Type)),
		slog.Int("jobs", len(specs)),
	)
}

func (p *Processor) enqueue(ctx context.Context, job jobs.Job, priority jobs.Priority) error {
	raw, err := jobs.Encode(job)
	if err != nil {
		return err
	}
	queue := queuex.JobsQueue
	switch {
	case job.ScheduledFor != nil:
		queue = queuex.DelayedQueue
		err = p.store.Push(ctx, queue, raw)
	case priority == jobs.PriorityHigh:
		err = p.store.PushFront(ctx, queue, raw)
	default:
		err = p.store.Push(ctx, queue, raw)
	}
	if err == nil {
		metricsx.IncJobEnqueued(string(job.Type), queue)
	}
	return err
}

// RunJobCycle promotes due delayed jobs and then drains jobs:queue. It returns how many jobs
// were executed or dropped.
func (p *Processor) RunJobCycle(ctx context.Context) (int, error) {
	work := context.WithoutCancel(ctx)
	if _, err := p.PromoteDelayed(work); err != nil {
		return 0, err
	}
	handled := 0
	for ctx.Err() == nil {
		raw, ok, err := p.store.Pop(work, queuex.JobsQueue, p.opts.PopTimeout)
		if err != nil {
			metricsx.IncStoreError("pop")
			return handled, fmt.Errorf("pop %s: %w", queuex.JobsQueue, err)
		}
		if !ok {
			return handled, nil
		}
		job, err := jobs.Decode(raw)
		if err != nil {
			p.log.Error(work, "job_malformed", "malformed job dropped",
				slog.String("error_code", "VALIDATION_ERROR"),
				slog.String("error", err.Error()),
				slog.String("raw", truncate(raw, 512)),
			)
			handled++
			continue
		}
		p.Execute(work, job)
		handled++
	}
	return handled, nil
}

// PromoteDelayed moves every delayed job whose scheduledFor has passed, or is unset, to the tail
// of jobs:queue. Jobs that cannot be decoded are removed.
func (p *Processor) PromoteDelayed(ctx context.Context) (int, error) {
	if p.opts.Locker != nil {
		unlock, ok, err := p.opts.Locker.TryLock(ctx, promoteLockKey, p.opts.Tick)
		if err != nil {
			metricsx.IncStoreError("lock")
			return 0, fmt.Errorf("promote lock: %w", err)
		}
		if !ok {
			return 0, nil
		}
		defer func() {
			if err := unlock(ctx); err != nil {
				p.log.Warn(ctx, "promote_unlock_failed", "promotion lease not released",
					slog.String("error_code", "STORE_UNAVAILABLE"),
					slog.String("error", err.Error()),
				)
			}
		}()
	}
	items, err := p.store.Scan(ctx, queuex.DelayedQueue)
	if err != nil {
		metricsx.IncStoreError("scan")
		return 0, fmt.Errorf("scan %s: %w", queuex.DelayedQueue, err)
	}
	now := p.opts.Now()
	promoted := 0
	for _, raw := range items {
		job, err := jobs.Decode(raw)
		if err != nil {
			if _, rerr := p.store.Remove(ctx, queuex.DelayedQueue, raw); rerr != nil {
				metricsx.IncStoreError("remove")
			}
			p.log.Error(ctx, "job_malformed", "malformed delayed job removed",
				slog.String("error_code", "VALIDATION_ERROR"),
				slog.String("error", err.Error()),
				slog.String("raw", truncate(raw, 512)),
			)
			continue
		}
		if !job.Due(now) {
			continue
		}
		moved, err := p.store.Move(ctx, queuex.DelayedQueue, queuex.JobsQueue, raw)
		if err != nil {
			metricsx.IncStoreError("move")
			return promoted, fmt.Errorf("promote %s: %w", job.ID, err)
		}
		// Another processor may have promoted it between Scan and Move.
		if !moved {
			continue
		}
		promoted++
		p.transition(ctx, job, workflow.JobDelayed, workflow.JobQueued)
	}
	return promoted, nil
}

// Execute runs job through its adapter and applies the resulting transition. It returns the
// state the job ended in: succeeded, delayed (retry scheduled), dead_lettered or dropped.
func (p *Processor) Execute(ctx context.Context, job jobs.Job) string {
	adapter, known := p.adapters.For(job.Type)
	if !known {
		p.log.Warn(ctx, "job_unknown_type", "job with unknown type dropped",
			slog.String("job_id", job.ID),
			slog.String("job_type", string(job.Type)),
		)
		p.transition(ctx, job, workflow.JobQueued, workflow.JobDropped)
		return workflow.JobDropped
	}
	p.transition(ctx, job, workflow.JobQueued, workflow.JobExecuting)

	ctx, span := otel.Tracer("processor").Start(ctx, "job.execute", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.type", string(job.Type)),
		attribute.Int("job.attempts", job.Attempts),
	)
	defer span.End()

	start := time.Now()
	err := p.run(ctx, adapter, job)
	if err == nil {
		metricsx.ObserveJobLatency(string(job.Type), "success", time.Since(start))
		p.transition(ctx, job, workflow.JobExecuting, workflow.JobSucceeded)
		return workflow.JobSucceeded
	}
	metricsx.ObserveJobLatency(string(job.Type), "failure", time.Since(start))
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return p.fail(ctx, job, err)
}

func (p *Processor) run(ctx context.Context, adapter Adapter, job jobs.Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("adapter panic: %v", rec)
		}
	}()
	return adapter.Execute(ctx, job)
}

func (p *Processor) fail(ctx context.Context, job jobs.Job, cause error) string {
	job.Attempts++
	job.LastError = truncate(cause.Error(), 1024)

	queue := queuex.FailedQueue
	to := workflow.JobDeadLettered
	if job.Attempts < job.MaxAttempts {
		queue = queuex.DelayedQueue
		to = workflow.JobDelayed
		job.ScheduleAt(p.opts.Now().Add(time.Duration(job.Attempts) * p.opts.RetryDelay))
	}

	raw, err := jobs.Encode(job)
	if err == nil {
		err = p.store.Push(ctx, queue, raw)
	}
	if err != nil {
		metricsx.IncStoreError("push")
		p.log.Error(ctx, "job_lost", "failed job could not be stored",
			slog.String("error_code", "STORE_UNAVAILABLE"),
			slog.String("error", err.Error()),
			slog.String("job_id", job.ID),
			slog.String("job_type", string(job.Type)),
			slog.String("queue", queue),
			slog.String("raw", raw),
		)
		return to
	}

	attrs := []slog.Attr{
		slog.String("error_code", "ADAPTER_ERROR"),
		slog.String("error", cause.Error()),
		slog.Int("attempts", job.Attempts),
		slog.Int("max_attempts", job.MaxAttempts),
	}
	if to == workflow.JobDelayed {
		attrs = append(attrs, slog.Int64("scheduled_for", *job.ScheduledFor))
	}
	p.transition(ctx, job, workflow.JobExecuting, to, attrs...)
	return to
}

// transition records a lifecycle step. Failures log at warn or error; the rest at debug.
func (p *Processor) transition(ctx context.Context, job jobs.Job, from string, to string, attrs ...slog.Attr) {
	name := workflow.TransitionFor(from, to)
	if name == "" {
		return
	}
	metricsx.IncJobTransition(string(job.Type), name)
	attrs = append(attrs,
		slog.String("job_id", job.ID),
		slog.String("job_type", string(job.Type)),
		slog.String("from", from),
		slog.String("to", to),
	)
	switch to {
	case workflow.JobDeadLettered:
		p.log.Error(ctx, name, "job moved to dead-letter queue", attrs...)
	case workflow.JobDelayed:
		p.log.Warn(ctx, name, "job retry scheduled", attrs...)
	case workflow.JobDropped:
		p.log.Warn(ctx, name, "job dropped", attrs...)
	default:
		p.log.Debug(ctx, name, "job transition", attrs...)
	}
}

func (p *Processor) recordDepths(ctx context.Context) error {
	depths, err := queuex.Depths(context.WithoutCancel(ctx), p.store)
	if err != nil {
		metricsx.IncStoreError("len")
		return err
	}
	for q, n := range depths {
		metricsx.SetQueueDepth(q, n)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
