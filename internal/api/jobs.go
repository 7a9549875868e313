package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/user/keepsake/internal/scheduler"
	"github.com/user/keepsake/internal/types"
)

// jobView adds display fields to a job.
type jobView struct {
	*types.CronJob
	DaysDisplay     string     `json:"days_display,omitempty"`
	TimezoneDisplay string     `json:"timezone_display"`
	NextRun         *time.Time `json:"next_run,omitempty"`
}

func (s *Server) view(job *types.CronJob) jobView {
	v := jobView{CronJob: job, TimezoneDisplay: scheduler.TimezoneDisplay(job.Timezone)}
	if !job.IsOneTime {
		v.DaysDisplay = scheduler.FormatDays(job.ScheduleDays)
	}
	if next, ok, err := scheduler.NextRun(job, s.now()); err == nil && ok {
		v.NextRun = &next
	}
	return v
}

func jobID(r *http.Request) (types.JobID, error) {
	n, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: invalid job id %q", types.ErrValidation, r.PathValue("id"))
	}
	return types.JobID(n), nil
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		unavailable(w, "scheduler")
		return
	}
	jobs, err := s.deps.Jobs.List(r.Context(), types.JobStatus(r.URL.Query().Get("status")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, s.view(j))
	}
	writeJSON(w, http.StatusOK, out)
}

type createJobRequest struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	Instructions string `json:"instructions"`
	Timezone     string `json:"timezone"`
	ScheduleDays []int  `json:"schedule_days"`
	ScheduleTime string `json:"schedule_time"`
	RunDate      string `json:"run_date"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		unavailable(w, "scheduler")
		return
	}
	var req createJobRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	job, err := s.deps.Jobs.Create(r.Context(), &types.CronJob{
		Name:         req.Name,
		Description:  req.Description,
		Instructions: req.Instructions,
		Timezone:     req.Timezone,
		ScheduleDays: req.ScheduleDays,
		ScheduleTime: req.ScheduleTime,
		RunDate:      req.RunDate,
		CreatedBy:    types.ActorUser,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.view(job))
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		unavailable(w, "scheduler")
		return
	}
	id, err := jobID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	job, err := s.deps.Jobs.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(job))
}

func (s *Server) handleUpdateJob(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		unavailable(w, "scheduler")
		return
	}
	id, err := jobID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var patch types.JobPatch
	if err := decode(r, &patch); err != nil {
		writeError(w, r, err)
		return
	}
	job, err := s.deps.Jobs.Update(r.Context(), id, &patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(job))
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		unavailable(w, "scheduler")
		return
	}
	id, err := jobID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.deps.Jobs.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

func (s *Server) handleJobAction(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		unavailable(w, "scheduler")
		return
	}
	id, err := jobID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var job *types.CronJob
	status := http.StatusOK
	switch action := r.PathValue("action"); action {
	case "pause":
		job, err = s.deps.Jobs.Pause(r.Context(), id)
	case "resume":
		job, err = s.deps.Jobs.Resume(r.Context(), id)
	case "clone":
		job, err = s.deps.Jobs.Clone(r.Context(), id)
		status = http.StatusCreated
	case "run":
		job, err = s.deps.Jobs.RunNow(r.Context(), id)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown action " + action})
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, status, s.view(job))
}
