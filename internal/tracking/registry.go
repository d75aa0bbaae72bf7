package tracking

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/cekresi/internal/bulk"
	"github.com/noah-isme/cekresi/internal/shipping"
)

// ErrTooManyJobs is returned when the registry already runs its maximum number of jobs.
var ErrTooManyJobs = errors.New("tracking: too many active bulk jobs")

// JobState describes the lifecycle of a bulk job.
type JobState string

const (
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobCancelled JobState = "cancelled"
)

// Snapshot is a point-in-time copy of a job.
type Snapshot struct {
	ID         string        `json:"id"`
	State      JobState      `json:"state"`
	Current    int           `json:"current"`
	Total      int           `json:"total"`
	Results    []bulk.Result `json:"results"`
	Pending    []string      `json:"pending,omitempty"`
	Summary    *bulk.Summary `json:"summary,omitempty"`
	CreatedAt  time.Time     `json:"createdAt"`
	FinishedAt *time.Time    `json:"finishedAt,omitempty"`
}

type job struct {
	id        string
	createdAt time.Time
	proc      *bulk.Processor

	mu         sync.Mutex
	state      JobState
	current    int
	total      int
	results    []bulk.Result
	summary    *bulk.Summary
	finishedAt time.Time
	abortSent  bool
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	Provider  shipping.Provider
	Options   []bulk.Option
	TTL       time.Duration
	MaxActive int
	Logger    *zerolog.Logger
}

// Registry keeps bulk jobs in memory. Finished jobs are dropped once they are
// older than the TTL.
type Registry struct {
	provider  shipping.Provider
	options   []bulk.Option
	ttl       time.Duration
	maxActive int
	logger    zerolog.Logger
	runLogger zerolog.Logger
	now       func() time.Time

	base   context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	jobs map[string]*job
}

// NewRegistry constructs a Registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}
	if cfg.MaxActive <= 0 {
		cfg.MaxActive = 50
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	base, cancel := context.WithCancel(context.Background())
	return &Registry{
		provider:  cfg.Provider,
		options:   cfg.Options,
		ttl:       cfg.TTL,
		maxActive: cfg.MaxActive,
		logger:    logger.With().Str("component", "tracking_registry").Logger(),
		runLogger: logger,
		now:       time.Now,
		base:      base,
		cancel:    cancel,
		jobs:      make(map[string]*job),
	}
}

// Start creates a job for ids and starts it. The run outlives the request; it
// only inherits the caller's trace.
func (r *Registry) Start(ctx context.Context, ids []string, opts ...bulk.Option) (Snapshot, error) {
	r.mu.Lock()
	r.pruneLocked()
	if r.activeLocked() >= r.maxActive {
		r.mu.Unlock()
		return Snapshot{}, ErrTooManyJobs
	}

	j := &job{
		id:        uuid.NewString(),
		createdAt: r.now(),
		state:     JobRunning,
		total:     len(ids),
	}
	options := append(append([]bulk.Option{}, r.options...), opts...)
	options = append(options, bulk.WithLogger(r.runLogger.With().Str("job_id", j.id).Logger()))
	j.proc = bulk.NewProcessor(r.provider, bulk.Callbacks{
		OnProgress: j.onProgress,
		OnResult:   j.onResult,
		OnComplete: func(s bulk.Summary) { j.onComplete(s, r.now()) },
	}, options...)
	if err := j.proc.Submit(ids); err != nil {
		r.mu.Unlock()
		return Snapshot{}, err
	}
	r.jobs[j.id] = j
	r.mu.Unlock()

	runCtx := trace.ContextWithSpanContext(r.base, trace.SpanContextFromContext(ctx))
	j.proc.Start(runCtx)
	r.logger.Info().Str("job_id", j.id).Int("total", len(ids)).Msg("bulk job started")
	return j.snapshot(), nil
}

// Get returns the snapshot of a job.
func (r *Registry) Get(id string) (Snapshot, bool) {
	r.mu.Lock()
	r.pruneLocked()
	j, ok := r.jobs[id]
	r.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	return j.snapshot(), true
}

// Abort requests cancellation of a job. Aborting a finished job is a no-op.
func (r *Registry) Abort(id string) (Snapshot, bool) {
	r.mu.Lock()
	j, ok := r.jobs[id]
	r.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	j.mu.Lock()
	first := !j.abortSent && j.state == JobRunning
	j.abortSent = true
	j.mu.Unlock()
	j.proc.Abort()
	if first {
		r.logger.Info().Str("job_id", id).Msg("bulk job abort requested")
	}
	return j.snapshot(), true
}

// Wait blocks until the job's run has completed.
func (r *Registry) Wait(id string) {
	r.mu.Lock()
	j, ok := r.jobs[id]
	r.mu.Unlock()
	if ok {
		j.proc.Wait()
	}
}

// List returns snapshots of every known job, newest first.
func (r *Registry) List() []Snapshot {
	r.mu.Lock()
	r.pruneLocked()
	jobs := make([]*job, 0, len(r.jobs))
	for _, j := range r.jobs {
		jobs = append(jobs, j)
	}
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.snapshot())
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	return out
}

// Shutdown cancels every running job and waits for them to finish or for ctx
// to end.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.cancel()
	r.mu.Lock()
	jobs := make([]*job, 0, len(r.jobs))
	for _, j := range r.jobs {
		jobs = append(jobs, j)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for _, j := range jobs {
			j.proc.Abort()
			j.proc.Wait()
		}
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) activeLocked() int {
	active := 0
	for _, j := range r.jobs {
		j.mu.Lock()
		if j.state == JobRunning {
			active++
		}
		j.mu.Unlock()
	}
	return active
}

func (r *Registry) pruneLocked() {
	cutoff := r.now().Add(-r.ttl)
	for id, j := range r.jobs {
		j.mu.Lock()
		expired := j.state != JobRunning && j.finishedAt.Before(cutoff)
		j.mu.Unlock()
		if expired {
			delete(r.jobs, id)
		}
	}
}

func (j *job) onProgress(current, total int) {
	j.mu.Lock()
	j.current = current
	j.total = total
	j.mu.Unlock()
}

func (j *job) onResult(res bulk.Result) {
	j.mu.Lock()
	j.results = append(j.results, res)
	j.mu.Unlock()
}

func (j *job) onComplete(s bulk.Summary, at time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.summary = &s
	j.finishedAt = at
	if s.Cancelled {
		j.state = JobCancelled
	} else {
		j.state = JobCompleted
	}
}

func (j *job) snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	snap := Snapshot{
		ID:        j.id,
		State:     j.state,
		Current:   j.current,
		Total:     j.total,
		Results:   append([]bulk.Result{}, j.results...),
		CreatedAt: j.createdAt,
	}
	if j.summary != nil {
		summary := *j.summary
		snap.Summary = &summary
		finished := j.finishedAt
		snap.FinishedAt = &finished
		if summary.Cancelled {
			snap.Pending = j.proc.Pending()
		}
	}
	return snap
}
