// internal/scheduler/coordinator.go
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/user/keepsake/internal/types"
)

// TurnRunner is the orchestrator entry point autonomous turns are sent to.
type TurnRunner interface {
	Handle(ctx context.Context, turn *types.Turn) (*types.TurnResult, error)
}

// Notifier delivers an autonomous response to the user.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Coordinator owns the cron job lifecycle. Each eligible job is registered
// as a cron entry; triggers run the job's instructions as a turn on the
// primary thread with at most one execution per job in flight.
type Coordinator struct {
	jobs      types.JobStore
	leases    types.LeaseStore
	runner    TurnRunner
	notifier  Notifier
	timeout   time.Duration
	timezone  string
	syncEvery time.Duration
	now       func() time.Time

	cron    *cron.Cron
	mu      sync.Mutex
	entries map[types.JobID]cron.EntryID
	stamps  map[types.JobID]int64
	running map[types.JobID]bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithNotifier delivers cron responses through n.
func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) { c.notifier = n }
}

// WithJobTimeout bounds a single job execution.
func WithJobTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.timeout = d }
}

// WithDefaultTimezone sets the timezone given to jobs created without one.
func WithDefaultTimezone(tz string) Option {
	return func(c *Coordinator) { c.timezone = tz }
}

// WithSyncInterval sets how often jobs are reconciled with the store. Zero
// disables reconciliation.
func WithSyncInterval(d time.Duration) Option {
	return func(c *Coordinator) { c.syncEvery = d }
}

// WithLeases claims each execution in the store as well, so coordinators
// in other processes sharing the store never run the same job at once.
func WithLeases(l types.LeaseStore) Option {
	return func(c *Coordinator) { c.leases = l }
}

// WithClock overrides the clock used for run bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func New(jobs types.JobStore, runner TurnRunner, opts ...Option) *Coordinator {
	c := &Coordinator{
		jobs:      jobs,
		runner:    runner,
		timeout:   10 * time.Minute,
		timezone:  "UTC",
		syncEvery: time.Minute,
		now:       time.Now,
		cron:      cron.New(),
		entries:   make(map[types.JobID]cron.EntryID),
		stamps:    make(map[types.JobID]int64),
		running:   make(map[types.JobID]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c
}

// Start registers every eligible job and starts the cron ticker.
func (c *Coordinator) Start(ctx context.Context) error {
	jobs, err := c.jobs.ListJobs(ctx, types.JobActive)
	if err != nil {
		return fmt.Errorf("load cron jobs: %w", err)
	}
	for _, job := range jobs {
		if err := c.register(job); err != nil {
			slog.Error("invalid cron job", "job_id", job.ID, "name", job.Name, "error", err)
		}
	}
	if c.syncEvery > 0 {
		c.cron.Schedule(cron.Every(c.syncEvery), cron.FuncJob(func() {
			if err := c.Sync(c.ctx); err != nil {
				slog.Warn("cron job sync failed", "error", err)
			}
		}))
	}
	c.cron.Start()
	c.mu.Lock()
	n := len(c.entries)
	c.mu.Unlock()
	slog.Info("cron coordinator started", "jobs", n)
	return nil
}

// Stop halts the ticker and waits for running jobs to finish or ctx to end.
func (c *Coordinator) Stop(ctx context.Context) error {
	stopped := c.cron.Stop()
	done := make(chan struct{})
	go func() {
		<-stopped.Done()
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		c.cancel()
		return nil
	case <-ctx.Done():
		c.cancel()
		return ctx.Err()
	}
}

// AddFunc registers an auxiliary periodic task, such as the heartbeat, on
// the coordinator's cron ticker.
func (c *Coordinator) AddFunc(spec string, fn func()) error {
	if _, err := c.cron.AddFunc(spec, fn); err != nil {
		return fmt.Errorf("%w: schedule %q: %v", types.ErrConfiguration, spec, err)
	}
	return nil
}

// onceSchedule fires a single time: at its instant, or immediately if that
// instant has already passed.
type onceSchedule struct {
	at   time.Time
	used bool
}

func (s *onceSchedule) Next(t time.Time) time.Time {
	if s.used {
		return time.Time{}
	}
	s.used = true
	if s.at.After(t) {
		return s.at
	}
	return t
}

func (c *Coordinator) register(job *types.CronJob) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id, ok := c.entries[job.ID]; ok {
		c.cron.Remove(id)
		delete(c.entries, job.ID)
	}
	c.stamps[job.ID] = job.UpdatedAt.UnixMilli()
	if !Eligible(job) {
		return nil
	}

	var sched cron.Schedule
	if job.IsOneTime {
		at, err := RunAt(job)
		if err != nil {
			return err
		}
		sched = &onceSchedule{at: at}
	} else {
		s, err := specFor(job)
		if err != nil {
			return err
		}
		sched = s
	}

	id := job.ID
	c.entries[id] = c.cron.Schedule(sched, cron.FuncJob(func() {
		if _, err := c.trigger(c.ctx, id, false); err != nil && !errors.Is(err, errOverlap) {
			slog.Error("cron job trigger failed", "job_id", id, "error", err)
		}
	}))
	return nil
}

// Refresh re-reads a job and re-registers or removes its cron entry.
func (c *Coordinator) Refresh(ctx context.Context, id types.JobID) error {
	job, err := c.jobs.GetJob(ctx, id)
	if errors.Is(err, types.ErrNotFound) {
		c.forget(id)
		return nil
	}
	if err != nil {
		return err
	}
	return c.register(job)
}

func (c *Coordinator) unregister(id types.JobID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[id]; ok {
		c.cron.Remove(entry)
		delete(c.entries, id)
	}
}

// forget drops every trace of a deleted job.
func (c *Coordinator) forget(id types.JobID) {
	c.unregister(id)
	c.mu.Lock()
	delete(c.stamps, id)
	c.mu.Unlock()
}

// Next reports when the clock will next trigger job id.
func (c *Coordinator) Next(id types.JobID) (time.Time, bool) {
	c.mu.Lock()
	entry, ok := c.entries[id]
	c.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	e := c.cron.Entry(entry)
	if !e.Valid() || e.Next.IsZero() {
		return time.Time{}, false
	}
	return e.Next, true
}

// RunNow executes a job immediately regardless of its schedule. It fails
// with types.ErrConcurrency if the job is already running here or in
// another process sharing the store.
func (c *Coordinator) RunNow(ctx context.Context, id types.JobID) (*types.CronJob, error) {
	return c.trigger(ctx, id, true)
}

// errOverlap marks a trigger that found its job already running.
var errOverlap = fmt.Errorf("%w: job already running", types.ErrConcurrency)

func jobLease(id types.JobID) string {
	return fmt.Sprintf("cron_job:%d", id)
}

// claim takes the process-local slot for id and, when configured, the
// store lease. The returned func releases both.
func (c *Coordinator) claim(ctx context.Context, id types.JobID) (func(), error) {
	if !c.acquire(id) {
		return nil, errOverlap
	}
	if c.leases == nil {
		return func() { c.release(id) }, nil
	}
	lease, ok, err := c.leases.TryLease(ctx, jobLease(id))
	if err != nil {
		c.release(id)
		return nil, err
	}
	if !ok {
		c.release(id)
		return nil, errOverlap
	}
	return func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("failed to release cron job lease", "job_id", id, "error", err)
		}
		c.release(id)
	}, nil
}

func (c *Coordinator) acquire(id types.JobID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running[id] {
		return false
	}
	c.running[id] = true
	c.wg.Add(1)
	return true
}

func (c *Coordinator) release(id types.JobID) {
	c.mu.Lock()
	delete(c.running, id)
	c.mu.Unlock()
	c.wg.Done()
}

// trigger runs one attempt of a job and records its outcome before the job
// is released for its next trigger. A scheduled trigger that finds the job
// already running is recorded as skipped; a manual one is only rejected.
func (c *Coordinator) trigger(ctx context.Context, id types.JobID, manual bool) (*types.CronJob, error) {
	done, err := c.claim(ctx, id)
	if errors.Is(err, errOverlap) {
		slog.Warn("cron job already running", "job_id", id, "manual", manual)
		if !manual {
			if _, recErr := c.record(ctx, id, types.JobRunSkipped, "previous run still in progress", false); recErr != nil {
				slog.Warn("failed to record skipped cron run", "job_id", id, "error", recErr)
			}
		}
		return nil, fmt.Errorf("job %d: %w", id, err)
	}
	if err != nil {
		return nil, fmt.Errorf("claim job %d: %w", id, err)
	}
	defer done()

	job, err := c.jobs.GetJob(ctx, id)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			c.forget(id)
		}
		return nil, err
	}

	if !manual && !Eligible(job) {
		slog.Info("skipping inactive cron job", "job_id", id, "name", job.Name)
		updated, err := c.record(ctx, id, types.JobRunSkipped, "", false)
		c.unregister(id)
		return updated, err
	}

	slog.Info("cron job firing", "job_id", id, "name", job.Name, "one_time", job.IsOneTime, "manual", manual)
	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	res, runErr := c.runner.Handle(runCtx, &types.Turn{
		Thread:      types.PrimaryThread,
		Text:        fmt.Sprintf("[Cron: %s]\n\n%s", job.Name, job.Instructions),
		DisplayName: "cron",
		Channel:     types.ChannelInternal,
		UserID:      "agent:cron",
	})
	cancel()

	status, msg := types.JobRunSuccess, ""
	if runErr != nil {
		status, msg = types.JobRunError, runErr.Error()
		slog.Error("cron job failed", "job_id", id, "name", job.Name, "error", runErr)
	}

	updated, err := c.record(ctx, id, status, msg, job.IsOneTime)
	if err != nil {
		return nil, fmt.Errorf("record run of job %d: %w", id, err)
	}
	if job.IsOneTime {
		c.unregister(id)
	}

	if runErr == nil && res != nil {
		c.deliver(ctx, job.Name, res.Response)
	}
	return updated, nil
}

// record stores a run outcome and remembers the new stamp so the periodic
// sync does not mistake the bookkeeping write for an edit.
func (c *Coordinator) record(ctx context.Context, id types.JobID, status types.JobRunStatus, msg string, pause bool) (*types.CronJob, error) {
	updated, err := c.jobs.RecordJobRun(context.WithoutCancel(ctx), id, c.now(), status, msg, pause)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	if _, ok := c.stamps[id]; ok {
		c.stamps[id] = updated.UpdatedAt.UnixMilli()
	}
	c.mu.Unlock()
	return updated, nil
}

func (c *Coordinator) deliver(ctx context.Context, name, response string) {
	response = strings.TrimSpace(response)
	if c.notifier == nil || response == "" || response == HeartbeatOK {
		return
	}
	if err := c.notifier.Notify(ctx, response); err != nil {
		slog.Warn("cron response delivery failed", "name", name, "error", err)
	}
}
