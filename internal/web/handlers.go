package web

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/salesingest/internal/core"
)

type healthResponse struct {
	Status   string              `json:"status"`
	Database string              `json:"database"`
	Workers  *core.LimiterStatus `json:"workers,omitempty"`
}

// handleHealth reports repository reachability and worker occupancy.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Database: "ok"}
	status := http.StatusOK
	if err := s.service.Ping(ctx); err != nil {
		resp.Status, resp.Database = "degraded", err.Error()
		status = http.StatusServiceUnavailable
	}
	if s.workers != nil {
		st := s.workers()
		resp.Workers = &st
	}
	writeJSONStatus(w, status, resp)
}

func (s *Server) handleListFormats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"formats": s.service.ListFormats()})
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	id, err := batchID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	st, err := s.service.GetStatus(r.Context(), identity(r).TenantID, id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, st)
}

func (s *Server) handleGetErrors(w http.ResponseWriter, r *http.Request) {
	id, err := batchID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	entries, err := s.service.GetErrors(r.Context(), identity(r).TenantID, id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if entries == nil {
		entries = []core.ErrorEntry{}
	}
	writeJSON(w, map[string]any{"batch_id": id, "errors": entries})
}

type transitionResponse struct {
	BatchID uuid.UUID       `json:"batch_id"`
	State   core.BatchState `json:"state"`
}

// batchAction is a service operation that answers with the resulting state.
type batchAction func(ctx context.Context, tenantID string, id uuid.UUID) (core.BatchState, error)

// transition serves a state-changing batch action.
func (s *Server) transition(action batchAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := batchID(r)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		state, err := action(r.Context(), identity(r).TenantID, id)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		writeJSON(w, transitionResponse{BatchID: id, State: state})
	}
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := batchID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.service.Delete(r.Context(), identity(r).TenantID, id); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
