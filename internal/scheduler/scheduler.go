package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/nerrad567/lab-orchestrator-core/internal/infrastructure/metrics"
)

// defaultRetention is how long fired and cancelled jobs stay visible.
const defaultRetention = 24 * time.Hour

// Executor runs a job's command batch. It is called from the job's own
// goroutine; the batch must be replayed in list order.
type Executor interface {
	Execute(ctx context.Context, job Job)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, job Job)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, job Job) { f(ctx, job) }

// Logger defines the logging interface used by the Scheduler.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Scheduler owns every job and the goroutine that waits on it.
type Scheduler struct {
	exec      Executor
	clock     Clock
	loc       *time.Location
	logger    Logger
	newID     func() string
	metrics   *metrics.Metrics
	retention time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	jobs    map[string]*entry
	stopped bool
}

// entry is the scheduler's private state for one job.
type entry struct {
	job        Job
	schedule   cron.Schedule // nil for one-off jobs
	cancelled  chan struct{}
	finishedAt time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source.
func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithLocation sets the zone cron expressions are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithLogger sets the scheduler logger.
func WithLogger(l Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithIDGenerator overrides job ID generation.
func WithIDGenerator(f func() string) Option {
	return func(s *Scheduler) { s.newID = f }
}

// WithMetrics records the number of pending jobs.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithRetention sets how long finished jobs remain visible to Get and List.
func WithRetention(d time.Duration) Option {
	return func(s *Scheduler) { s.retention = d }
}

// New creates a running scheduler that hands fired jobs to exec.
func New(exec Executor, opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		exec:      exec,
		clock:     realClock{},
		loc:       time.UTC,
		logger:    noopLogger{},
		newID:     uuid.NewString,
		retention: defaultRetention,
		ctx:       ctx,
		cancel:    cancel,
		jobs:      make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ScheduleOnce submits a job that fires once at req.FireAt. A fire time in
// the past fires immediately.
func (s *Scheduler) ScheduleOnce(req Request) (Job, error) {
	if req.FireAt.IsZero() || req.Cron != "" {
		return Job{}, fmt.Errorf("%w: one-off jobs need a fire time and no cron", ErrInvalidTrigger)
	}
	if err := validateCommands(req.Commands); err != nil {
		return Job{}, err
	}

	return s.add(req, KindOnce, nil, req.FireAt)
}

// ScheduleCron submits a recurring job. The expression is a standard
// five-field crontab line (or a descriptor such as @hourly) and is rejected
// here, not at a later tick, when it does not parse.
func (s *Scheduler) ScheduleCron(req Request) (Job, error) {
	if req.Cron == "" || !req.FireAt.IsZero() {
		return Job{}, fmt.Errorf("%w: cron jobs need an expression and no fire time", ErrInvalidTrigger)
	}
	sched, err := parseCron(req.Cron)
	if err != nil {
		return Job{}, err
	}
	if err := validateCommands(req.Commands); err != nil {
		return Job{}, err
	}

	return s.add(req, KindCron, sched, sched.Next(s.clock.Now().In(s.loc)))
}

// Next returns the first tick of expr strictly after t.
func Next(expr string, t time.Time) (time.Time, error) {
	sched, err := parseCron(expr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(t), nil
}

// cronParser accepts five-field lines and the minute-aligned descriptors
// (@hourly, @daily, ...). @every and TZ= prefixes are refused in parseCron.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func parseCron(expr string) (cron.Schedule, error) {
	trimmed := strings.TrimSpace(expr)
	switch {
	case strings.HasPrefix(trimmed, "@every"):
		return nil, fmt.Errorf("%w: %q: interval schedules are not supported", ErrInvalidCron, expr)
	case strings.HasPrefix(trimmed, "TZ="), strings.HasPrefix(trimmed, "CRON_TZ="):
		return nil, fmt.Errorf("%w: %q: time zone comes from scheduler.location", ErrInvalidCron, expr)
	}
	sched, err := cronParser.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidCron, expr, err)
	}
	return sched, nil
}

func validateCommands(cmds []Command) error {
	if len(cmds) == 0 {
		return ErrNoCommands
	}
	for i, c := range cmds {
		if err := c.validate(); err != nil {
			return fmt.Errorf("commands[%d]: %w", i, err)
		}
	}
	return nil
}

func (s *Scheduler) add(req Request, kind Kind, sched cron.Schedule, next time.Time) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return Job{}, ErrSchedulerStopped
	}
	s.pruneLocked()

	now := s.clock.Now()
	e := &entry{
		job: Job{
			ID:         s.newID(),
			Module:     req.Module,
			Actor:      req.Actor,
			Kind:       kind,
			FireAt:     req.FireAt,
			Cron:       req.Cron,
			Commands:   req.Commands,
			State:      StatePending,
			CreatedAt:  now,
			NextFireAt: next,
		},
		schedule:  sched,
		cancelled: make(chan struct{}),
	}
	e.job = e.job.clone()
	s.jobs[e.job.ID] = e
	s.recordPendingLocked()

	s.wg.Add(1)
	go s.run(e)

	s.logger.Info("job scheduled",
		"job_id", e.job.ID,
		"module", e.job.Module,
		"kind", kind,
		"next_fire_at", next,
		"commands", len(e.job.Commands),
	)
	return e.job.clone(), nil
}

// Cancel stops a pending job. Jobs that have already fired (one-off) or
// been cancelled report ErrJobNotFound. A batch already running completes.
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[id]
	if !ok || e.job.State != StatePending {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	e.job.State = StateCancelled
	e.job.NextFireAt = time.Time{}
	e.finishedAt = s.clock.Now()
	close(e.cancelled)
	s.recordPendingLocked()

	s.logger.Info("job cancelled", "job_id", id, "module", e.job.Module)
	return nil
}

// Get returns a job by ID.
func (s *Scheduler) Get(id string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return e.job.clone(), nil
}

// List returns every retained job in creation order.
func (s *Scheduler) List() []Job {
	return s.filter(func(Job) bool { return true })
}

// ListByModule returns the retained jobs submitted for one module.
func (s *Scheduler) ListByModule(module string) []Job {
	return s.filter(func(j Job) bool { return j.Module == module })
}

func (s *Scheduler) filter(keep func(Job) bool) []Job {
	s.mu.Lock()
	s.pruneLocked()
	out := make([]Job, 0, len(s.jobs))
	for _, e := range s.jobs {
		if keep(e.job) {
			out = append(out, e.job.clone())
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Stop cancels every job goroutine and waits for running batches to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

// run waits for each fire of one job and executes it.
func (s *Scheduler) run(e *entry) {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		next := e.job.NextFireAt
		s.mu.Unlock()

		wait := next.Sub(s.clock.Now())
		if wait < 0 {
			wait = 0
		}

		select {
		case <-s.ctx.Done():
			return
		case <-e.cancelled:
			return
		case <-s.clock.After(wait):
		}

		job, ok := s.begin(e)
		if !ok {
			return
		}
		s.execute(job)
		if !s.rearm(e) {
			return
		}
	}
}

// begin marks the start of a fire. It returns false when the job was
// cancelled while the timer was pending.
func (s *Scheduler) begin(e *entry) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.job.State != StatePending {
		return Job{}, false
	}

	now := s.clock.Now()
	e.job.FireCount++
	e.job.LastFiredAt = now
	if e.job.Kind == KindOnce {
		e.job.State = StateFired
		e.job.NextFireAt = time.Time{}
		e.finishedAt = now
		s.recordPendingLocked()
	}
	return e.job.clone(), true
}

// execute hands the batch to the executor, containing any panic.
func (s *Scheduler) execute(job Job) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job executor panic recovered", "job_id", job.ID, "panic", r)
		}
	}()
	s.exec.Execute(s.ctx, job)
}

// rearm computes the next tick after a cron batch. Ticks that passed while
// the batch ran are skipped. The base never goes behind the fire that just
// ran, so a wall clock stepped backwards cannot repeat a tick.
func (s *Scheduler) rearm(e *entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.job.State != StatePending || e.schedule == nil {
		return false
	}
	base := s.clock.Now()
	if base.Before(e.job.LastFiredAt) {
		base = e.job.LastFiredAt
	}
	e.job.NextFireAt = e.schedule.Next(base.Truncate(time.Minute).In(s.loc))
	return true
}

// pruneLocked drops finished jobs older than the retention window.
func (s *Scheduler) pruneLocked() {
	if s.retention <= 0 {
		return
	}
	cutoff := s.clock.Now().Add(-s.retention)
	for id, e := range s.jobs {
		if e.job.State != StatePending && e.finishedAt.Before(cutoff) {
			delete(s.jobs, id)
		}
	}
}

func (s *Scheduler) recordPendingLocked() {
	if s.metrics == nil {
		return
	}
	n := 0
	for _, e := range s.jobs {
		if e.job.State == StatePending {
			n++
		}
	}
	s.metrics.RecordPendingJobs(n)
}
