package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/salesingest/internal/core"
)

type mappingRequest struct {
	ResellerID  string `json:"reseller_id"`
	SourceCode  string `json:"source_code"`
	CanonicalID string `json:"canonical_id"`
}

type mappingResponse struct {
	ID          uuid.UUID `json:"id"`
	ResellerID  string    `json:"reseller_id"`
	SourceCode  string    `json:"source_code"`
	CanonicalID string    `json:"canonical_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// handleConfirmMapping records a reviewer-confirmed product mapping.
func (s *Server) handleConfirmMapping(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req mappingRequest
	if err := dec.Decode(&req); err != nil {
		s.respondError(w, r, fmt.Errorf("invalid request: %w", err))
		return
	}

	pm, err := s.service.ConfirmMapping(r.Context(), identity(r).TenantID, resellerOf(r, req.ResellerID), req.SourceCode, req.CanonicalID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, mappingResponse{
		ID:          pm.ID,
		ResellerID:  pm.ResellerID,
		SourceCode:  pm.SourceCode,
		CanonicalID: pm.CanonicalID,
		CreatedAt:   pm.CreatedAt,
	})
}

// handleSuggestMappings lists confirmed mappings whose codes resemble ?code=.
func (s *Server) handleSuggestMappings(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	reseller := resellerOf(r, r.URL.Query().Get("reseller_id"))
	if code == "" || reseller == "" {
		s.respondError(w, r, fmt.Errorf("invalid request: code and reseller are required"))
		return
	}

	suggestions, err := s.service.SuggestMappings(r.Context(), identity(r).TenantID, reseller, code)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if suggestions == nil {
		suggestions = []core.Suggestion{}
	}
	writeJSON(w, map[string]any{"code": code, "suggestions": suggestions})
}
