package web

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/JonMunkholm/salesingest/internal/core"
)

// multipartOverhead is allowed on top of the file size limit for form fields
// and part headers.
const multipartOverhead = 1 << 20

// identity returns the caller set by RequireIdentity.
func identity(r *http.Request) core.Identity {
	id, _ := core.IdentityFromContext(r.Context())
	return id
}

// resellerOf prefers an explicit reseller_id parameter over the header.
func resellerOf(r *http.Request, explicit string) string {
	if v := strings.TrimSpace(explicit); v != "" {
		return v
	}
	return identity(r).ResellerID
}

// batchID parses the batchID route parameter.
func batchID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "batchID")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid request: batch id %q", raw)
	}
	return id, nil
}

// formFile reads the multipart "file" part of an upload bounded by maxSize.
// The caller closes the file.
func formFile(w http.ResponseWriter, r *http.Request, maxSize int64) (multipart.File, *multipart.FileHeader, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "too large") {
			return nil, nil, core.ErrFileTooLarge
		}
		return nil, nil, fmt.Errorf("invalid request: %w", err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, nil, fmt.Errorf("invalid request: no file provided")
	}
	if header.Size > maxSize {
		file.Close()
		return nil, nil, fmt.Errorf("%w: limit is %d bytes", core.ErrFileTooLarge, maxSize)
	}
	return file, header, nil
}
