package bulk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/cekresi/internal/courier"
	"github.com/noah-isme/cekresi/internal/obs"
	"github.com/noah-isme/cekresi/internal/shipping"
)

// Common processor errors.
var (
	ErrRunning      = errors.New("bulk: a run is already in progress")
	ErrTooManyItems = errors.New("bulk: too many tracking numbers")
	ErrNoProvider   = errors.New("bulk: no tracking provider configured")
	ErrLookupPanic  = errors.New("bulk: lookup panicked")
)

// Phase is the observable sub-state of a processor.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseDispatching
	PhaseAwaitingBatch
	PhaseDelay
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseDispatching:
		return "dispatching"
	case PhaseAwaitingBatch:
		return "awaiting_batch"
	case PhaseDelay:
		return "delay"
	case PhaseDone:
		return "done"
	default:
		return "unknown"
	}
}

// Callbacks receive run events. They are never invoked concurrently with each
// other, but they are called from the run goroutine or its lookup goroutines,
// so a slow callback slows the run.
type Callbacks struct {
	// OnProgress fires when an item is dispatched. current counts dispatched
	// items and total is frozen for the run.
	OnProgress func(current, total int)
	// OnResult fires once per dispatched item when its lookup settles.
	OnResult func(Result)
	// OnComplete fires exactly once per run, after the running flag is cleared.
	// It must not call Wait or Run on the same processor: Wait returns only
	// after OnComplete does, so doing so deadlocks.
	OnComplete func(Summary)
}

// Processor runs bulk tracking lookups. The zero value is not usable; build
// one with NewProcessor.
type Processor struct {
	lookup shipping.Provider
	cb     Callbacks
	cfg    settings
	tracer trace.Tracer

	mu      sync.Mutex
	pending []string
	current *run

	running         atomic.Bool
	cancelRequested atomic.Bool
	phase           atomic.Int32

	emitMu sync.Mutex
}

// run is the state owned by a single run goroutine.
type run struct {
	id        string
	items     []string
	total     int
	abort     chan struct{}
	abortOnce sync.Once
	done      chan struct{}

	dispatched int
	succeeded  int
	failed     int
}

// NewProcessor builds a processor around lookup. Nil callbacks are ignored.
func NewProcessor(lookup shipping.Provider, cb Callbacks, opts ...Option) *Processor {
	cfg := defaultSettings()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.inferrer == nil {
		cfg.inferrer = courier.NewInferrer(courier.DefaultRules, courier.Default)
	}
	return &Processor{
		lookup: lookup,
		cb:     cb,
		cfg:    cfg,
		tracer: otel.Tracer("bulk.Processor"),
	}
}

// Submit replaces the pending work list. It fails with ErrRunning while a run
// is active and with ErrTooManyItems when ids exceeds the configured maximum.
func (p *Processor) Submit(ids []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running.Load() {
		return ErrRunning
	}
	if len(ids) > p.cfg.maxItems {
		return fmt.Errorf("%w: got %d, max %d", ErrTooManyItems, len(ids), p.cfg.maxItems)
	}
	p.pending = append([]string(nil), ids...)
	return nil
}

// Pending returns a copy of the items not yet dispatched. After an aborted run
// it holds the items that were never started.
func (p *Processor) Pending() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.pending...)
}

// Running reports whether a run is active.
func (p *Processor) Running() bool {
	return p.running.Load()
}

// Phase reports the current sub-state.
func (p *Processor) Phase() Phase {
	return Phase(p.phase.Load())
}

// Start begins a run in a new goroutine. It returns false without side effects
// when a run is already active.
func (p *Processor) Start(ctx context.Context) bool {
	r := p.begin()
	if r == nil {
		return false
	}
	go p.execute(ctx, r)
	return true
}

// Run is the blocking form of Start. It returns false when another run is
// already active.
func (p *Processor) Run(ctx context.Context) bool {
	r := p.begin()
	if r == nil {
		return false
	}
	p.execute(ctx, r)
	return true
}

// Abort requests cancellation of the active run. The in-flight batch settles
// normally; no further batch is dispatched. Abort is a no-op when idle.
func (p *Processor) Abort() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running.Load() || p.current == nil {
		return
	}
	p.cancelRequested.Store(true)
	r := p.current
	r.abortOnce.Do(func() { close(r.abort) })
}

// Wait blocks until the most recently started run has completed, including
// its OnComplete callback.
func (p *Processor) Wait() {
	p.mu.Lock()
	r := p.current
	p.mu.Unlock()
	if r != nil {
		<-r.done
	}
}

func (p *Processor) begin() *run {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running.Load() {
		return nil
	}
	p.running.Store(true)
	p.cancelRequested.Store(false)
	r := &run{
		id:    uuid.NewString(),
		items: p.pending,
		total: len(p.pending),
		abort: make(chan struct{}),
		done:  make(chan struct{}),
	}
	p.pending = nil
	p.current = r
	return r
}

func (p *Processor) execute(ctx context.Context, r *run) {
	started := time.Now()
	ctx, span := p.tracer.Start(ctx, "bulk.Run", trace.WithAttributes(
		attribute.String("bulk.run_id", r.id),
		attribute.Int("bulk.total", r.total),
		attribute.Int("bulk.batch_size", p.cfg.batchSize),
	))
	logger := p.cfg.logger.With().Str("run_id", r.id).Logger()
	logger.Info().Int("total", r.total).Int("batch_size", p.cfg.batchSize).Dur("delay", p.cfg.delay).Msg("bulk run started")

	// Cancelling ctx stops the run at the next batch boundary. Lookups already
	// in flight keep running until they settle or hit the lookup timeout.
	lookupCtx := context.WithoutCancel(ctx)
	for len(r.items) > 0 && !p.stopRequested(ctx) {
		n := p.cfg.batchSize
		if n > len(r.items) {
			n = len(r.items)
		}
		batch := r.items[:n]
		r.items = r.items[n:]

		p.dispatch(lookupCtx, r, batch)

		if len(r.items) == 0 || p.stopRequested(ctx) {
			break
		}
		p.setPhase(PhaseDelay)
		if !p.pause(ctx, r.abort) {
			break
		}
	}
	p.setPhase(PhaseDone)

	summary := Summary{
		Total:      r.total,
		Dispatched: r.dispatched,
		Succeeded:  r.succeeded,
		Failed:     r.failed,
		Cancelled:  len(r.items) > 0,
		Duration:   time.Since(started),
	}
	outcome := "completed"
	if summary.Cancelled {
		outcome = "cancelled"
	}
	span.SetAttributes(
		attribute.Int("bulk.dispatched", summary.Dispatched),
		attribute.Int("bulk.failed", summary.Failed),
		attribute.String("bulk.outcome", outcome),
	)
	span.End()
	if obs.BulkRunsTotal != nil {
		obs.BulkRunsTotal.WithLabelValues(outcome).Inc()
	}
	logger.Info().
		Str("outcome", outcome).
		Int("total", summary.Total).
		Int("dispatched", summary.Dispatched).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Dur("duration", summary.Duration).
		Msg("bulk run finished")

	p.mu.Lock()
	p.pending = r.items
	p.setPhase(PhaseIdle)
	p.running.Store(false)
	p.mu.Unlock()

	if p.cb.OnComplete != nil {
		p.emitMu.Lock()
		p.cb.OnComplete(summary)
		p.emitMu.Unlock()
	}
	close(r.done)
}

// dispatch runs one batch concurrently and returns once every lookup settled.
func (p *Processor) dispatch(ctx context.Context, r *run, batch []string) {
	p.setPhase(PhaseDispatching)
	var g errgroup.Group
	for _, id := range batch {
		g.Go(func() error {
			p.emitMu.Lock()
			r.dispatched++
			current := r.dispatched
			if p.cb.OnProgress != nil {
				p.cb.OnProgress(current, r.total)
			}
			p.emitMu.Unlock()

			res := p.lookupOne(ctx, r.id, id)

			p.emitMu.Lock()
			if res.IsError {
				r.failed++
			} else {
				r.succeeded++
			}
			if p.cb.OnResult != nil {
				p.cb.OnResult(res)
			}
			p.emitMu.Unlock()
			return nil
		})
	}
	p.setPhase(PhaseAwaitingBatch)
	_ = g.Wait()
}

func (p *Processor) lookupOne(ctx context.Context, runID, id string) Result {
	code := p.cfg.inferrer.Infer(id)
	ctx, span := p.tracer.Start(ctx, "bulk.Lookup", trace.WithAttributes(
		attribute.String("shipping.courier", code.String()),
	))
	defer span.End()

	if obs.BulkLookupsInFlight != nil {
		obs.BulkLookupsInFlight.Inc()
		defer obs.BulkLookupsInFlight.Dec()
	}
	started := time.Now()
	res, err := p.track(ctx, shipping.TrackReq{Courier: code, TrackingNumber: id})

	var out Result
	label := "found"
	switch {
	case err != nil:
		out = resultFromError(id, err)
		label = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, "lookup failed")
		p.cfg.logger.Warn().Err(err).
			Str("run_id", runID).
			Str("courier", code.String()).
			Msg("bulk lookup failed")
	case !res.Found:
		out = resultFromLookup(id, code, res)
		label = "not_found"
	default:
		out = resultFromLookup(id, code, res)
	}
	if obs.BulkLookupsTotal != nil {
		obs.BulkLookupsTotal.WithLabelValues(code.String(), label).Inc()
	}
	if obs.BulkLookupLatency != nil {
		obs.BulkLookupLatency.WithLabelValues(label).Observe(float64(time.Since(started).Milliseconds()))
	}
	return out
}

// track calls the provider with the lookup timeout applied. Panics and
// providers that ignore their context both settle as errors.
func (p *Processor) track(ctx context.Context, req shipping.TrackReq) (shipping.TrackResult, error) {
	if p.lookup == nil {
		return shipping.TrackResult{}, ErrNoProvider
	}
	if p.cfg.lookupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.lookupTimeout)
		defer cancel()
	}

	type outcome struct {
		res shipping.TrackResult
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		var o outcome
		defer func() {
			if rec := recover(); rec != nil {
				o = outcome{err: fmt.Errorf("%w: %v", ErrLookupPanic, rec)}
			}
			ch <- o
		}()
		o.res, o.err = p.lookup.Track(ctx, req)
	}()

	select {
	case o := <-ch:
		return o.res, o.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && p.cfg.lookupTimeout > 0 {
			return shipping.TrackResult{}, fmt.Errorf("lookup timed out after %s: %w", p.cfg.lookupTimeout, ctx.Err())
		}
		return shipping.TrackResult{}, ctx.Err()
	}
}

func (p *Processor) stopRequested(ctx context.Context) bool {
	return p.cancelRequested.Load() || ctx.Err() != nil
}

// pause waits for the inter-batch delay. It returns false when the run should
// stop instead.
func (p *Processor) pause(ctx context.Context, abort <-chan struct{}) bool {
	if p.cfg.delay <= 0 {
		return true
	}
	timer := time.NewTimer(p.cfg.delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-abort:
		return false
	case <-ctx.Done():
		return false
	}
}

func (p *Processor) setPhase(phase Phase) {
	p.phase.Store(int32(phase))
}
