package web

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/JonMunkholm/salesingest/internal/blob"
	"github.com/JonMunkholm/salesingest/internal/core"
	"github.com/JonMunkholm/salesingest/internal/logging"
)

// handleSubmit stores an uploaded file and registers it for ingestion.
// New batches answer 202, duplicates of an earlier upload 200.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	file, header, err := formFile(w, r, s.cfg.Pipeline.MaxFileSize)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	defer file.Close()

	id := identity(r)
	reseller := resellerOf(r, r.FormValue("reseller_id"))
	if reseller == "" {
		s.respondError(w, r, fmt.Errorf("invalid request: missing reseller"))
		return
	}

	handle := blob.NewHandle(id.TenantID, header.Filename, s.now())
	if err := s.blobs.Put(r.Context(), handle, file); err != nil {
		s.respondError(w, r, core.WithKind(core.KindInfrastructureFailure, fmt.Errorf("store upload: %w", err)))
		return
	}

	res, err := s.service.Submit(r.Context(), core.SubmitRequest{
		TenantID:   id.TenantID,
		ResellerID: reseller,
		FileHandle: handle,
		FileName:   header.Filename,
	})
	if err != nil || res.Duplicate {
		// the batch, if any, refers to an earlier copy
		s.discard(r.Context(), handle)
	}
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	status := http.StatusAccepted
	if res.Duplicate {
		status = http.StatusOK
	}
	writeJSONStatus(w, status, res)
}

func (s *Server) discard(ctx context.Context, handle string) {
	if err := s.blobs.Delete(context.WithoutCancel(ctx), handle); err != nil {
		logging.FromContext(ctx).Warn("discard upload", "handle", handle, "error", err)
	}
}

// handlePreview analyzes a file and reports what ingesting it would do,
// without creating a batch.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	maxSize := s.cfg.Pipeline.MaxFileSize
	file, header, err := formFile(w, r, maxSize)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxSize+1))
	if err != nil {
		s.respondError(w, r, fmt.Errorf("invalid request: read file: %w", err))
		return
	}

	result, err := s.service.Preview(r.Context(), identity(r).TenantID, resellerOf(r, r.FormValue("reseller_id")), header.Filename, data)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, result)
}
