// internal/state/jobs.go
package state

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/user/keepsake/internal/types"
)

const jobColumns = `id, name, description, instructions, timezone, schedule_days, schedule_time, run_date,
	is_one_time, status, created_by, created_at, updated_at, last_run_at, last_run_status, last_run_error, run_count`

// CreateJob inserts job and fills in its id and timestamps.
func (s *DB) CreateJob(ctx context.Context, job *types.CronJob) error {
	now := s.now().UTC()
	if job.Status == "" {
		job.Status = types.JobActive
	}
	if job.CreatedBy == "" {
		job.CreatedBy = types.ActorUser
	}

	var id int64
	err := s.db.QueryRowContext(ctx, s.q(`
		INSERT INTO cron_jobs (name, description, instructions, timezone, schedule_days, schedule_time, run_date,
			is_one_time, status, created_by, created_at, updated_at, run_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
		RETURNING id`),
		job.Name, nullString(job.Description), job.Instructions, job.Timezone,
		nullString(encodeDays(job.ScheduleDays)), nullString(job.ScheduleTime), nullString(job.RunDate),
		boolToInt(job.IsOneTime), string(job.Status), string(job.CreatedBy), toMillis(now), toMillis(now),
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("insert cron job: %w", err)
	}
	job.ID = types.JobID(id)
	job.CreatedAt = now
	job.UpdatedAt = now
	job.RunCount = 0
	return nil
}

func (s *DB) GetJob(ctx context.Context, id types.JobID) (*types.CronJob, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+jobColumns+` FROM cron_jobs WHERE id = ?`), int64(id))
	job, err := scanJob(row)
	if err != nil {
		return nil, notFound(fmt.Sprintf("cron job %d", id), err)
	}
	return job, nil
}

// ListJobs returns jobs newest first. An empty status lists every job.
func (s *DB) ListJobs(ctx context.Context, status types.JobStatus) ([]*types.CronJob, error) {
	query := `SELECT ` + jobColumns + ` FROM cron_jobs`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list cron jobs: %w", err)
	}
	defer rows.Close()

	var out []*types.CronJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cron job: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// UpdateJob writes every user-editable field of job.
func (s *DB) UpdateJob(ctx context.Context, job *types.CronJob) error {
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE cron_jobs SET name = ?, description = ?, instructions = ?, timezone = ?, schedule_days = ?,
			schedule_time = ?, run_date = ?, is_one_time = ?, status = ?, updated_at = ?
		WHERE id = ?`),
		job.Name, nullString(job.Description), job.Instructions, job.Timezone,
		nullString(encodeDays(job.ScheduleDays)), nullString(job.ScheduleTime), nullString(job.RunDate),
		boolToInt(job.IsOneTime), string(job.Status), toMillis(now), int64(job.ID),
	)
	if err := expectRow(res, err, job.ID); err != nil {
		return err
	}
	job.UpdatedAt = now
	return nil
}

func (s *DB) DeleteJob(ctx context.Context, id types.JobID) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM cron_jobs WHERE id = ?`), int64(id))
	return expectRow(res, err, id)
}

// SetJobStatus moves a job between active and paused.
func (s *DB) SetJobStatus(ctx context.Context, id types.JobID, status types.JobStatus) (*types.CronJob, error) {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE cron_jobs SET status = ?, updated_at = ? WHERE id = ?`),
		string(status), toMillis(s.now()), int64(id),
	)
	if err := expectRow(res, err, id); err != nil {
		return nil, err
	}
	return s.GetJob(ctx, id)
}

// RecordJobRun stores the outcome of one trigger attempt.
func (s *DB) RecordJobRun(ctx context.Context, id types.JobID, at time.Time, status types.JobRunStatus, runErr string, pause bool) (*types.CronJob, error) {
	var newStatus sql.NullString
	if pause {
		newStatus = sql.NullString{String: string(types.JobPaused), Valid: true}
	}
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE cron_jobs SET run_count = run_count + 1, last_run_at = ?, last_run_status = ?, last_run_error = ?,
			status = COALESCE(?, status), updated_at = ?
		WHERE id = ?`),
		toMillis(at), string(status), nullString(runErr), newStatus, toMillis(at), int64(id),
	)
	if err := expectRow(res, err, id); err != nil {
		return nil, err
	}
	return s.GetJob(ctx, id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*types.CronJob, error) {
	var (
		job                                   types.CronJob
		id                                    int64
		description, days, schedTime, runDate sql.NullString
		lastStatus, lastErr                   sql.NullString
		oneTime                               int
		status, createdBy                     string
		createdAt, updatedAt                  int64
		lastRunAt                             sql.NullInt64
	)
	err := row.Scan(&id, &job.Name, &description, &job.Instructions, &job.Timezone, &days, &schedTime, &runDate,
		&oneTime, &status, &createdBy, &createdAt, &updatedAt, &lastRunAt, &lastStatus, &lastErr, &job.RunCount)
	if err != nil {
		return nil, err
	}
	job.ID = types.JobID(id)
	job.Description = description.String
	job.ScheduleDays = decodeDays(days.String)
	job.ScheduleTime = schedTime.String
	job.RunDate = runDate.String
	job.IsOneTime = oneTime != 0
	job.Status = types.JobStatus(status)
	job.CreatedBy = types.Actor(createdBy)
	job.CreatedAt = fromMillis(createdAt)
	job.UpdatedAt = fromMillis(updatedAt)
	job.LastRunAt = nullMillis(lastRunAt)
	job.LastRunStatus = types.JobRunStatus(lastStatus.String)
	job.LastRunError = lastErr.String
	return &job, nil
}

func expectRow(res sql.Result, err error, id types.JobID) error {
	if err != nil {
		return fmt.Errorf("write cron job %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("write cron job %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: cron job %d", types.ErrNotFound, id)
	}
	return nil
}

func encodeDays(days []int) string {
	if len(days) == 0 {
		return ""
	}
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, ",")
}

func decodeDays(s string) []int {
	if s == "" {
		return nil
	}
	var out []int
	for _, p := range strings.Split(s, ",") {
		if d, err := strconv.Atoi(strings.TrimSpace(p)); err == nil {
			out = append(out, d)
		}
	}
	return out
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
