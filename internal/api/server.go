// Package api serves the HTTP surface used by external UIs: chat, the
// message log, core memory, cron jobs, summaries and archival facts.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/user/keepsake/internal/scheduler"
	"github.com/user/keepsake/internal/types"
)

// TurnHandler runs a turn to completion.
type TurnHandler interface {
	Handle(ctx context.Context, turn *types.Turn) (*types.TurnResult, error)
}

// BlockManager is the core memory surface. UI edits use a privileged actor.
type BlockManager interface {
	List(ctx context.Context) ([]*types.CoreMemoryBlock, error)
	Update(ctx context.Context, bt types.BlockType, text string, actor types.Actor) (*types.CoreMemoryBlock, error)
	Rollback(ctx context.Context, bt types.BlockType, actor types.Actor) (*types.CoreMemoryBlock, error)
	History(ctx context.Context, bt types.BlockType, limit int) ([]*types.HistoryEntry, error)
}

// JobService is the cron job lifecycle.
type JobService interface {
	List(ctx context.Context, status types.JobStatus) ([]*types.CronJob, error)
	Get(ctx context.Context, id types.JobID) (*types.CronJob, error)
	Create(ctx context.Context, job *types.CronJob) (*types.CronJob, error)
	Update(ctx context.Context, id types.JobID, patch *types.JobPatch) (*types.CronJob, error)
	Delete(ctx context.Context, id types.JobID) error
	Pause(ctx context.Context, id types.JobID) (*types.CronJob, error)
	Resume(ctx context.Context, id types.JobID) (*types.CronJob, error)
	Clone(ctx context.Context, id types.JobID) (*types.CronJob, error)
	RunNow(ctx context.Context, id types.JobID) (*types.CronJob, error)
}

// SummaryReader lists recent daily summaries.
type SummaryReader interface {
	Trailing(ctx context.Context, n int, asOf time.Time) ([]*types.DailySummary, error)
}

// FactSearcher queries archival facts.
type FactSearcher interface {
	Query(ctx context.Context, query, category string, limit int) ([]*types.ArchivalFact, error)
}

// Deps are the services behind the routes. A nil service makes its routes
// answer 503.
type Deps struct {
	Turns     TurnHandler
	Messages  types.MessageStore
	Memory    BlockManager
	Jobs      JobService
	Summaries SummaryReader
	Facts     FactSearcher
	Location  *time.Location
}

// Server is the HTTP handler for the UI API.
type Server struct {
	deps Deps
	mux  *http.ServeMux
	now  func() time.Time
}

// NewServer creates a Server with every route registered.
func NewServer(deps Deps) *Server {
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	s := &Server{deps: deps, mux: http.NewServeMux(), now: time.Now}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /chat", s.handleChat)
	s.mux.HandleFunc("GET /messages", s.handleMessages)
	s.mux.HandleFunc("GET /core-memory", s.handleCoreMemory)
	s.mux.HandleFunc("GET /core-memory/{block}/history", s.handleBlockHistory)
	s.mux.HandleFunc("POST /core-memory/{block}", s.handleBlockUpdate)
	s.mux.HandleFunc("POST /core-memory/{block}/rollback", s.handleBlockRollback)
	s.mux.HandleFunc("GET /cron/timezones", s.handleTimezones)
	s.mux.HandleFunc("GET /cron/jobs", s.handleListJobs)
	s.mux.HandleFunc("POST /cron/jobs", s.handleCreateJob)
	s.mux.HandleFunc("GET /cron/jobs/{id}", s.handleGetJob)
	s.mux.HandleFunc("PUT /cron/jobs/{id}", s.handleUpdateJob)
	s.mux.HandleFunc("DELETE /cron/jobs/{id}", s.handleDeleteJob)
	s.mux.HandleFunc("POST /cron/jobs/{id}/{action}", s.handleJobAction)
	s.mux.HandleFunc("GET /summaries", s.handleSummaries)
	s.mux.HandleFunc("GET /facts", s.handleFacts)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// StatusFor maps the error taxonomy to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrPermission):
		return http.StatusForbidden
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrConcurrency):
		return http.StatusConflict
	case errors.Is(err, types.ErrOverflow):
		return http.StatusUnprocessableEntity
	case errors.Is(err, types.ErrConfiguration):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("api request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func unavailable(w http.ResponseWriter, what string) {
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": what + " not configured"})
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON", types.ErrValidation)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type chatRequest struct {
	Message     string `json:"message"`
	ThreadID    string `json:"thread_id"`
	DisplayName string `json:"display_name"`
	UserID      string `json:"user_id"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.deps.Turns == nil {
		unavailable(w, "chat")
		return
	}
	var req chatRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message is required"})
		return
	}
	userID := req.UserID
	if userID == "" {
		userID = types.NewUserID("web", "local")
	}
	res, err := s.deps.Turns.Handle(r.Context(), &types.Turn{
		Thread:      types.ThreadID(req.ThreadID),
		Text:        req.Message,
		DisplayName: req.DisplayName,
		Channel:     types.ChannelHTTP,
		UserID:      userID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// messageView is a stored message decorated with local date and time.
type messageView struct {
	*types.Message
	DateLocal string `json:"date_local"`
	TimeLocal string `json:"time_local"`
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if s.deps.Messages == nil {
		unavailable(w, "message store")
		return
	}
	thread := types.ThreadID(r.URL.Query().Get("thread_id"))
	if thread == "" {
		thread = types.PrimaryThread
	}
	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}
	msgs, err := s.deps.Messages.RecentMessages(r.Context(), thread, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		local := m.CreatedAt.In(s.deps.Location)
		out = append(out, messageView{
			Message:   m,
			DateLocal: local.Format(types.DateLayout),
			TimeLocal: local.Format("3:04 PM"),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"thread_id": thread, "messages": out})
}

func (s *Server) handleCoreMemory(w http.ResponseWriter, r *http.Request) {
	if s.deps.Memory == nil {
		unavailable(w, "core memory")
		return
	}
	blocks, err := s.deps.Memory.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, blocks)
}

func (s *Server) handleBlockHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.Memory == nil {
		unavailable(w, "core memory")
		return
	}
	hist, err := s.deps.Memory.History(r.Context(), types.BlockType(r.PathValue("block")), 20)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if hist == nil {
		hist = []*types.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, hist)
}

func (s *Server) handleBlockUpdate(w http.ResponseWriter, r *http.Request) {
	if s.deps.Memory == nil {
		unavailable(w, "core memory")
		return
	}
	var req struct {
		Content *string `json:"content"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Content == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "content is required"})
		return
	}
	b, err := s.deps.Memory.Update(r.Context(), types.BlockType(r.PathValue("block")), *req.Content, types.ActorUser)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleBlockRollback(w http.ResponseWriter, r *http.Request) {
	if s.deps.Memory == nil {
		unavailable(w, "core memory")
		return
	}
	b, err := s.deps.Memory.Rollback(r.Context(), types.BlockType(r.PathValue("block")), types.ActorUser)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleSummaries(w http.ResponseWriter, r *http.Request) {
	if s.deps.Summaries == nil {
		unavailable(w, "summaries")
		return
	}
	days := 7
	if q := r.URL.Query().Get("days"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			days = n
		}
	}
	rows, err := s.deps.Summaries.Trailing(r.Context(), days, s.now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rows == nil {
		rows = []*types.DailySummary{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleFacts(w http.ResponseWriter, r *http.Request) {
	if s.deps.Facts == nil {
		unavailable(w, "archival memory")
		return
	}
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	facts, err := s.deps.Facts.Query(r.Context(), q.Get("q"), q.Get("category"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if facts == nil {
		facts = []*types.ArchivalFact{}
	}
	writeJSON(w, http.StatusOK, facts)
}

func (s *Server) handleTimezones(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scheduler.Timezones)
}
