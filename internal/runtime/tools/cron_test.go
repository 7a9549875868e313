package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/user/keepsake/internal/types"
)

type fakeJobs struct {
	jobs    map[types.JobID]*types.CronJob
	nextID  types.JobID
	patched *types.JobPatch
}

func (f *fakeJobs) init() {
	if f.jobs == nil {
		f.jobs = make(map[types.JobID]*types.CronJob)
	}
}

func (f *fakeJobs) List(_ context.Context, status types.JobStatus) ([]*types.CronJob, error) {
	f.init()
	var out []*types.CronJob
	for id := types.JobID(1); id <= f.nextID; id++ {
		if j, ok := f.jobs[id]; ok && (status == "" || j.Status == status) {
			out = append(out, j)
		}
	}
	return out, nil
}

func (f *fakeJobs) Create(_ context.Context, job *types.CronJob) (*types.CronJob, error) {
	f.init()
	if job.Name == "" {
		return nil, types.ErrValidation
	}
	f.nextID++
	job.ID = f.nextID
	job.Status = types.JobActive
	job.IsOneTime = job.RunDate != "" && len(job.ScheduleDays) == 0
	f.jobs[job.ID] = job
	return job, nil
}

func (f *fakeJobs) Update(_ context.Context, id types.JobID, patch *types.JobPatch) (*types.CronJob, error) {
	f.init()
	j, ok := f.jobs[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	f.patched = patch
	if patch.Name != nil {
		j.Name = *patch.Name
	}
	return j, nil
}

func (f *fakeJobs) setStatus(id types.JobID, st types.JobStatus) (*types.CronJob, error) {
	f.init()
	j, ok := f.jobs[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	j.Status = st
	return j, nil
}

func (f *fakeJobs) Pause(_ context.Context, id types.JobID) (*types.CronJob, error) {
	return f.setStatus(id, types.JobPaused)
}

func (f *fakeJobs) Resume(_ context.Context, id types.JobID) (*types.CronJob, error) {
	return f.setStatus(id, types.JobActive)
}

func (f *fakeJobs) Delete(_ context.Context, id types.JobID) error {
	f.init()
	if _, ok := f.jobs[id]; !ok {
		return types.ErrNotFound
	}
	delete(f.jobs, id)
	return nil
}

func TestCronCreateAndList(t *testing.T) {
	jobs := &fakeJobs{}
	create := &CronCreateJob{jobs: jobs}
	list := &CronListJobs{jobs: jobs}

	out, err := run(t, list, map[string]string{})
	if err != nil || out != "No cron jobs found." {
		t.Fatalf("empty list: got %q, %v", out, err)
	}

	out, err = run(t, create, map[string]any{
		"name":          "Standup",
		"instructions":  "Ask what I am working on today.",
		"schedule_time": "9:00 AM",
		"schedule_days": []int{0, 1, 2, 3, 4},
		"timezone":      "America/New_York",
	})
	if err != nil {
		t.Fatal(err)
	}
	if out != "Created recurring cron job 'Standup' (id=1). It is now scheduled." {
		t.Errorf("unexpected create result %q", out)
	}
	if jobs.jobs[1].CreatedBy != types.ActorAgent {
		t.Errorf("expected created_by agent, got %q", jobs.jobs[1].CreatedBy)
	}

	out, err = run(t, create, map[string]any{
		"name":         "Dentist",
		"instructions": strings.Repeat("remind me ", 20),
		"run_date":     "2026-04-01",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "Created one-time cron job 'Dentist' (id=2)") {
		t.Errorf("unexpected create result %q", out)
	}

	ran := time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC)
	jobs.jobs[1].LastRunAt = &ran
	jobs.jobs[1].LastRunStatus = types.JobRunSuccess

	out, err = run(t, list, map[string]string{})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"[id=1] Standup — ACTIVE\n  Schedule: Weekdays at 9:00 AM (America/New_York)",
		"  Last run: 2026-03-12 09:00 (success)",
		"[id=2] Dentist — ACTIVE\n  Schedule: One-time on 2026-04-01 at",
		"  Last run: Never (N/A)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("list output missing %q:\n%s", want, out)
		}
	}
	if !strings.Contains(out, "...") {
		t.Errorf("expected long instructions to be previewed: %s", out)
	}
}

func TestCronPauseResumeDelete(t *testing.T) {
	jobs := &fakeJobs{}
	if _, err := run(t, &CronCreateJob{jobs: jobs}, map[string]any{"name": "Walk", "instructions": "Nudge", "schedule_days": []int{5}}); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, &CronPauseJob{jobs: jobs}, map[string]int{"job_id": 1})
	if err != nil || out != "Paused cron job 'Walk' (id=1)." {
		t.Fatalf("pause: got %q, %v", out, err)
	}
	out, err = run(t, &CronListJobs{jobs: jobs}, map[string]string{"status": "active"})
	if err != nil || out != "No cron jobs found." {
		t.Errorf("expected no active jobs, got %q, %v", out, err)
	}
	if _, err := run(t, &CronResumeJob{jobs: jobs}, map[string]int{"job_id": 1}); err != nil {
		t.Fatal(err)
	}
	if jobs.jobs[1].Status != types.JobActive {
		t.Errorf("expected active after resume")
	}

	out, err = run(t, &CronDeleteJob{jobs: jobs}, map[string]int{"job_id": 1})
	if err != nil || out != "Deleted cron job 1." {
		t.Fatalf("delete: got %q, %v", out, err)
	}
	if _, err := run(t, &CronDeleteJob{jobs: jobs}, map[string]int{"job_id": 1}); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := run(t, &CronPauseJob{jobs: jobs}, map[string]int{}); !errors.Is(err, types.ErrValidation) {
		t.Errorf("expected ErrValidation for missing job_id, got %v", err)
	}
}

func TestCronUpdateOnlyProvidedFields(t *testing.T) {
	jobs := &fakeJobs{}
	if _, err := run(t, &CronCreateJob{jobs: jobs}, map[string]any{"name": "Walk", "instructions": "Nudge", "schedule_days": []int{5}}); err != nil {
		t.Fatal(err)
	}
	update := &CronUpdateJob{jobs: jobs}

	out, err := run(t, update, map[string]int{"job_id": 1})
	if err != nil || out != "No fields provided to update." {
		t.Fatalf("empty update: got %q, %v", out, err)
	}

	out, err = run(t, update, map[string]any{"job_id": 1, "name": "Evening walk", "status": "paused"})
	if err != nil {
		t.Fatal(err)
	}
	if out != "Updated cron job 'Evening walk' (id=1). Changes are live." {
		t.Errorf("unexpected result %q", out)
	}
	p := jobs.patched
	if p.Instructions != nil || p.ScheduleDays != nil || p.Status == nil || *p.Status != types.JobPaused {
		t.Errorf("unexpected patch %+v", p)
	}
}
