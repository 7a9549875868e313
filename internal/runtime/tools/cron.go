package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/user/keepsake/internal/scheduler"
	"github.com/user/keepsake/internal/types"
)

// JobManager is the cron job lifecycle the agent can drive. Changes take
// effect on the running schedule immediately.
type JobManager interface {
	List(ctx context.Context, status types.JobStatus) ([]*types.CronJob, error)
	Create(ctx context.Context, job *types.CronJob) (*types.CronJob, error)
	Update(ctx context.Context, id types.JobID, patch *types.JobPatch) (*types.CronJob, error)
	Pause(ctx context.Context, id types.JobID) (*types.CronJob, error)
	Resume(ctx context.Context, id types.JobID) (*types.CronJob, error)
	Delete(ctx context.Context, id types.JobID) error
}

const instructionsPreview = 120

// CronTools returns every cron tool over jobs.
func CronTools(jobs JobManager) []Tool {
	return []Tool{
		&CronListJobs{jobs: jobs},
		&CronCreateJob{jobs: jobs},
		&CronUpdateJob{jobs: jobs},
		&CronPauseJob{jobs: jobs},
		&CronResumeJob{jobs: jobs},
		&CronDeleteJob{jobs: jobs},
	}
}

// CronListJobs lists scheduled jobs.
type CronListJobs struct{ jobs JobManager }

func (c *CronListJobs) Name() string { return "cron_list_jobs" }
func (c *CronListJobs) Description() string {
	return "List your scheduled cron jobs. Optionally filter by status."
}
func (c *CronListJobs) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"status": {"type": "string", "enum": ["", "active", "paused"], "description": "Filter by status; empty for all jobs"}
		}
	}`)
}

func (c *CronListJobs) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		Status string `json:"status"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &params); err != nil {
			return "", fmt.Errorf("parse args: %w", err)
		}
	}
	jobs, err := c.jobs.List(ctx, types.JobStatus(strings.TrimSpace(params.Status)))
	if err != nil {
		return "", err
	}
	if len(jobs) == 0 {
		return "No cron jobs found.", nil
	}
	parts := make([]string, 0, len(jobs))
	for _, j := range jobs {
		parts = append(parts, describeJob(j))
	}
	return strings.Join(parts, "\n\n"), nil
}

func describeJob(j *types.CronJob) string {
	schedule := fmt.Sprintf("%s at %s (%s)", scheduler.FormatDays(j.ScheduleDays), j.ScheduleTime, j.Timezone)
	if j.IsOneTime {
		schedule = fmt.Sprintf("One-time on %s at %s (%s)", j.RunDate, j.ScheduleTime, j.Timezone)
	}
	preview := j.Instructions
	if r := []rune(preview); len(r) > instructionsPreview {
		preview = string(r[:instructionsPreview]) + "..."
	}
	lastRun, lastStatus := "Never", "N/A"
	if j.LastRunAt != nil {
		lastRun = j.LastRunAt.Format("2006-01-02 15:04")
	}
	if j.LastRunStatus != "" {
		lastStatus = string(j.LastRunStatus)
	}
	return fmt.Sprintf("[id=%d] %s — %s\n  Schedule: %s\n  Instructions: %s\n  Last run: %s (%s)",
		j.ID, j.Name, strings.ToUpper(string(j.Status)), schedule, preview, lastRun, lastStatus)
}

// CronCreateJob schedules a new job on behalf of the agent.
type CronCreateJob struct{ jobs JobManager }

func (c *CronCreateJob) Name() string { return "cron_create_job" }
func (c *CronCreateJob) Description() string {
	return "Create a scheduled task that runs your instructions at a set time. For recurring jobs give schedule_days and schedule_time; for one-time jobs give run_date and schedule_time and leave schedule_days empty."
}
func (c *CronCreateJob) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"name": {"type": "string", "description": "Short descriptive job name"},
			"instructions": {"type": "string", "description": "What you should do when the job runs"},
			"schedule_time": {"type": "string", "description": "Time such as 7:00 PM or 19:00 (default 12:00 PM)"},
			"schedule_days": {"type": "array", "items": {"type": "integer"}, "description": "0=Mon .. 6=Sun, e.g. [0,1,2,3,4] for weekdays; empty for one-time jobs"},
			"timezone": {"type": "string", "description": "IANA timezone, defaults to the agent timezone"},
			"description": {"type": "string", "description": "Optional human-readable description"},
			"run_date": {"type": "string", "description": "YYYY-MM-DD for one-time jobs"}
		},
		"required": ["name", "instructions"]
	}`)
}

func (c *CronCreateJob) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		Name         string `json:"name"`
		Instructions string `json:"instructions"`
		ScheduleTime string `json:"schedule_time"`
		ScheduleDays []int  `json:"schedule_days"`
		Timezone     string `json:"timezone"`
		Description  string `json:"description"`
		RunDate      string `json:"run_date"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("parse args: %w", err)
	}
	job, err := c.jobs.Create(ctx, &types.CronJob{
		Name:         params.Name,
		Instructions: params.Instructions,
		ScheduleTime: params.ScheduleTime,
		ScheduleDays: params.ScheduleDays,
		Timezone:     params.Timezone,
		Description:  params.Description,
		RunDate:      params.RunDate,
		CreatedBy:    types.ActorAgent,
	})
	if err != nil {
		return "", err
	}
	kind := "recurring"
	if job.IsOneTime {
		kind = "one-time"
	}
	return fmt.Sprintf("Created %s cron job '%s' (id=%d). It is now scheduled.", kind, job.Name, job.ID), nil
}

// CronUpdateJob changes selected fields of a job.
type CronUpdateJob struct{ jobs JobManager }

func (c *CronUpdateJob) Name() string { return "cron_update_job" }
func (c *CronUpdateJob) Description() string {
	return "Update an existing cron job. Only the fields you provide are changed."
}
func (c *CronUpdateJob) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"job_id": {"type": "integer", "description": "ID from cron_list_jobs"},
			"name": {"type": "string"},
			"instructions": {"type": "string"},
			"schedule_time": {"type": "string"},
			"schedule_days": {"type": "array", "items": {"type": "integer"}},
			"timezone": {"type": "string"},
			"description": {"type": "string"},
			"run_date": {"type": "string"},
			"status": {"type": "string", "enum": ["active", "paused"]}
		},
		"required": ["job_id"]
	}`)
}

func (c *CronUpdateJob) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		JobID        int64  `json:"job_id"`
		Name         string `json:"name"`
		Instructions string `json:"instructions"`
		ScheduleTime string `json:"schedule_time"`
		ScheduleDays []int  `json:"schedule_days"`
		Timezone     string `json:"timezone"`
		Description  string `json:"description"`
		RunDate      string `json:"run_date"`
		Status       string `json:"status"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("parse args: %w", err)
	}
	patch := &types.JobPatch{
		Name:         optional(params.Name),
		Instructions: optional(params.Instructions),
		ScheduleTime: optional(params.ScheduleTime),
		Timezone:     optional(params.Timezone),
		Description:  optional(params.Description),
		RunDate:      optional(params.RunDate),
	}
	if len(params.ScheduleDays) > 0 {
		patch.ScheduleDays = params.ScheduleDays
	}
	if params.Status != "" {
		st := types.JobStatus(params.Status)
		patch.Status = &st
	}
	if patch.Empty() {
		return "No fields provided to update.", nil
	}
	job, err := c.jobs.Update(ctx, types.JobID(params.JobID), patch)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Updated cron job '%s' (id=%d). Changes are live.", job.Name, job.ID), nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var jobIDParameters = json.RawMessage(`{
	"type": "object",
	"properties": {
		"job_id": {"type": "integer", "description": "ID from cron_list_jobs"}
	},
	"required": ["job_id"]
}`)

func parseJobID(args json.RawMessage) (types.JobID, error) {
	var params struct {
		JobID int64 `json:"job_id"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return 0, fmt.Errorf("parse args: %w", err)
	}
	if params.JobID <= 0 {
		return 0, fmt.Errorf("%w: job_id is required", types.ErrValidation)
	}
	return types.JobID(params.JobID), nil
}

// CronPauseJob stops a job from running without deleting it.
type CronPauseJob struct{ jobs JobManager }

func (c *CronPauseJob) Name() string { return "cron_pause_job" }
func (c *CronPauseJob) Description() string {
	return "Pause a cron job so it stops running without being deleted."
}
func (c *CronPauseJob) Parameters() json.RawMessage { return jobIDParameters }

func (c *CronPauseJob) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	id, err := parseJobID(args)
	if err != nil {
		return "", err
	}
	job, err := c.jobs.Pause(ctx, id)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Paused cron job '%s' (id=%d).", job.Name, job.ID), nil
}

// CronResumeJob reactivates a paused job.
type CronResumeJob struct{ jobs JobManager }

func (c *CronResumeJob) Name() string { return "cron_resume_job" }
func (c *CronResumeJob) Description() string {
	return "Resume a paused cron job so it runs on its schedule again."
}
func (c *CronResumeJob) Parameters() json.RawMessage { return jobIDParameters }

func (c *CronResumeJob) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	id, err := parseJobID(args)
	if err != nil {
		return "", err
	}
	job, err := c.jobs.Resume(ctx, id)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Resumed cron job '%s' (id=%d).", job.Name, job.ID), nil
}

// CronDeleteJob permanently removes a job.
type CronDeleteJob struct{ jobs JobManager }

func (c *CronDeleteJob) Name() string { return "cron_delete_job" }
func (c *CronDeleteJob) Description() string {
	return "Permanently delete a cron job."
}
func (c *CronDeleteJob) Parameters() json.RawMessage { return jobIDParameters }

func (c *CronDeleteJob) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	id, err := parseJobID(args)
	if err != nil {
		return "", err
	}
	if err := c.jobs.Delete(ctx, id); err != nil {
		return "", err
	}
	return fmt.Sprintf("Deleted cron job %d.", id), nil
}
