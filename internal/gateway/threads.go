package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/newsieai/newsie/internal/payment"
	"github.com/newsieai/newsie/internal/scheduler"
	"github.com/newsieai/newsie/internal/store"
	"github.com/newsieai/newsie/internal/thread"
)

func (s *Server) handleListThreads() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		threads, err := s.service.ListThreads(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		if threads == nil {
			threads = []thread.Thread{}
		}
		writeJSON(w, http.StatusOK, threads)
	}
}

func (s *Server) handleGetThread() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		th, err := s.service.GetThread(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, th)
	}
}

// handleSaveThread serves both POST /api/threads and PUT
// /api/threads/{id}. A missing id on create is generated.
func (s *Server) handleSaveThread() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var th thread.Thread
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&th); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body: " + err.Error()})
			return
		}
		if id := chi.URLParam(r, "id"); id != "" {
			th.ID = id
		}
		created := th.ID == ""
		if created {
			th.ID = uuid.NewString()
		}

		if err := s.service.SaveThread(r.Context(), &th); err != nil {
			writeError(w, err)
			return
		}

		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		writeJSON(w, status, th)
	}
}

func (s *Server) handleDeleteThread() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.service.DeleteThread(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// StartResponse is the JSON response for POST /api/threads/{id}/start.
type StartResponse struct {
	ThreadID string    `json:"thread_id"`
	NextFire time.Time `json:"next_fire"`
}

func (s *Server) handleStartThread() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		next, err := s.service.StartThread(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, StartResponse{ThreadID: id, NextFire: next})
	}
}

func (s *Server) handleStopThread() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.service.StopThread(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleRunNow() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := s.service.RunNow(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, scheduler.ErrRunInFlight) {
			writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
			return
		}
		if err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

// ThreadStatusResponse is the JSON response for GET /api/threads/{id}/status.
type ThreadStatusResponse struct {
	ThreadID     string                  `json:"thread_id"`
	Running      bool                    `json:"running"`
	InFlight     bool                    `json:"in_flight"`
	NextFire     *time.Time              `json:"next_fire,omitempty"`
	LastRun      *store.Run              `json:"last_run,omitempty"`
	LastTransfer *payment.TransferRecord `json:"last_transfer,omitempty"`
}

func (s *Server) handleThreadStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		th, err := s.service.GetThread(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}

		resp := ThreadStatusResponse{
			ThreadID: id,
			Running:  th.Running,
			InFlight: s.service.InFlight(id),
		}
		if next, armed := s.service.NextFire(id); armed {
			resp.NextFire = &next
		}
		last, err := s.service.LatestRun(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		resp.LastRun = last

		tr, err := s.service.LatestTransfer(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		resp.LastTransfer = tr

		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) handleListRuns() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runs, err := s.service.ListRuns(r.Context(), chi.URLParam(r, "id"), queryLimit(r))
		if err != nil {
			writeError(w, err)
			return
		}
		if runs == nil {
			runs = []store.Run{}
		}
		writeJSON(w, http.StatusOK, runs)
	}
}

func (s *Server) handleListItems() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := s.service.ListItems(r.Context(), chi.URLParam(r, "id"), queryLimit(r))
		if err != nil {
			writeError(w, err)
			return
		}
		if items == nil {
			items = []store.Item{}
		}
		writeJSON(w, http.StatusOK, items)
	}
}

// queryLimit parses ?limit=N; zero lets the store apply its default.
func queryLimit(r *http.Request) int {
	n, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return n
}
