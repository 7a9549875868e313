// internal/scheduler/jobs.go
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/user/keepsake/internal/types"
)

// prepare fills defaults and validates job before it is written.
func (c *Coordinator) prepare(job *types.CronJob) error {
	job.Name = strings.TrimSpace(job.Name)
	job.Instructions = strings.TrimSpace(job.Instructions)
	job.RunDate = strings.TrimSpace(job.RunDate)
	if job.Timezone == "" {
		job.Timezone = c.timezone
	}
	if job.RunDate != "" && len(job.ScheduleDays) == 0 {
		job.IsOneTime = true
	}
	if job.IsOneTime && strings.TrimSpace(job.ScheduleTime) == "" {
		job.ScheduleTime = DefaultOneTimeClock
	}
	job.ScheduleDays = NormalizeDays(job.ScheduleDays)
	return Validate(job)
}

// Create validates and stores a new job, then schedules it.
func (c *Coordinator) Create(ctx context.Context, job *types.CronJob) (*types.CronJob, error) {
	if err := c.prepare(job); err != nil {
		return nil, err
	}
	if err := c.jobs.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	if err := c.register(job); err != nil {
		return nil, err
	}
	slog.Info("cron job created", "job_id", job.ID, "name", job.Name, "one_time", job.IsOneTime, "created_by", job.CreatedBy)
	return job, nil
}

// Update applies patch to job id and reschedules it.
func (c *Coordinator) Update(ctx context.Context, id types.JobID, patch *types.JobPatch) (*types.CronJob, error) {
	job, err := c.jobs.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if patch == nil || patch.Empty() {
		return nil, fmt.Errorf("%w: no fields to update", types.ErrValidation)
	}
	if patch.Name != nil {
		job.Name = *patch.Name
	}
	if patch.Description != nil {
		job.Description = *patch.Description
	}
	if patch.Instructions != nil {
		job.Instructions = *patch.Instructions
	}
	if patch.Timezone != nil {
		job.Timezone = *patch.Timezone
	}
	if patch.ScheduleDays != nil {
		job.ScheduleDays = patch.ScheduleDays
	}
	if patch.ScheduleTime != nil {
		job.ScheduleTime = *patch.ScheduleTime
	}
	if patch.RunDate != nil {
		job.RunDate = *patch.RunDate
		job.IsOneTime = job.RunDate != ""
	}
	if patch.Status != nil {
		if *patch.Status != types.JobActive && *patch.Status != types.JobPaused {
			return nil, fmt.Errorf("%w: unknown status %q", types.ErrValidation, *patch.Status)
		}
		job.Status = *patch.Status
	}
	if err := c.prepare(job); err != nil {
		return nil, err
	}
	if err := c.jobs.UpdateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("update job %d: %w", id, err)
	}
	if err := c.register(job); err != nil {
		return nil, err
	}
	return job, nil
}

// Pause stops future triggers without deleting the job.
func (c *Coordinator) Pause(ctx context.Context, id types.JobID) (*types.CronJob, error) {
	job, err := c.jobs.SetJobStatus(ctx, id, types.JobPaused)
	if err != nil {
		return nil, err
	}
	c.unregister(id)
	slog.Info("cron job paused", "job_id", id, "name", job.Name)
	return job, nil
}

// Resume reactivates a job. Its next run is computed from now; missed runs
// are not caught up.
func (c *Coordinator) Resume(ctx context.Context, id types.JobID) (*types.CronJob, error) {
	job, err := c.jobs.SetJobStatus(ctx, id, types.JobActive)
	if err != nil {
		return nil, err
	}
	if err := c.register(job); err != nil {
		return nil, err
	}
	slog.Info("cron job resumed", "job_id", id, "name", job.Name)
	return job, nil
}

// Clone copies a job's definition into a new active job with fresh run
// statistics.
func (c *Coordinator) Clone(ctx context.Context, id types.JobID) (*types.CronJob, error) {
	src, err := c.jobs.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.Create(ctx, &types.CronJob{
		Name:         src.Name + " (Copy)",
		Description:  src.Description,
		Instructions: src.Instructions,
		Timezone:     src.Timezone,
		ScheduleDays: append([]int(nil), src.ScheduleDays...),
		ScheduleTime: src.ScheduleTime,
		RunDate:      src.RunDate,
		IsOneTime:    src.IsOneTime,
		Status:       types.JobActive,
		CreatedBy:    types.ActorUser,
	})
}

// Delete removes a job and its schedule.
func (c *Coordinator) Delete(ctx context.Context, id types.JobID) error {
	c.forget(id)
	if err := c.jobs.DeleteJob(ctx, id); err != nil {
		return err
	}
	slog.Info("cron job deleted", "job_id", id)
	return nil
}

// List returns jobs, optionally filtered by status.
func (c *Coordinator) List(ctx context.Context, status types.JobStatus) ([]*types.CronJob, error) {
	return c.jobs.ListJobs(ctx, status)
}

// Get returns one job.
func (c *Coordinator) Get(ctx context.Context, id types.JobID) (*types.CronJob, error) {
	return c.jobs.GetJob(ctx, id)
}

// Sync reconciles cron entries with the store, picking up jobs changed by
// another process such as the CLI.
func (c *Coordinator) Sync(ctx context.Context) error {
	jobs, err := c.jobs.ListJobs(ctx, "")
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	seen := make(map[types.JobID]bool, len(jobs))
	for _, job := range jobs {
		seen[job.ID] = true
		c.mu.Lock()
		stamp, known := c.stamps[job.ID]
		c.mu.Unlock()
		if known && stamp == job.UpdatedAt.UnixMilli() {
			continue
		}
		if err := c.register(job); err != nil {
			slog.Error("invalid cron job", "job_id", job.ID, "name", job.Name, "error", err)
		}
	}

	c.mu.Lock()
	var gone []types.JobID
	for id := range c.stamps {
		if !seen[id] {
			gone = append(gone, id)
		}
	}
	c.mu.Unlock()
	for _, id := range gone {
		c.forget(id)
	}
	return nil
}
