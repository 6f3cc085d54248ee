package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// PreviewSummary contains the row counts of a dry run.
type PreviewSummary struct {
	TotalRows       int `json:"total_rows"`
	ValidRows       int `json:"valid_rows"`
	ErrorRows       int `json:"error_rows"`
	DuplicateInFile int `json:"duplicate_in_file"`
}

// ErrorPreview is a row that would fail validation.
type ErrorPreview struct {
	RowOrdinal int               `json:"row_ordinal"`
	Values     map[string]string `json:"values"`
	Errors     []RowError        `json:"errors"`
}

// DuplicatePreview lists rows sharing one natural key within the file.
// Only the last of them would survive commit.
type DuplicatePreview struct {
	Key         string `json:"key"`
	RowOrdinals []int  `json:"row_ordinals"`
}

// PreviewResponse is the result of Preview.
type PreviewResponse struct {
	Format           string             `json:"format,omitempty"`
	Confidence       float64            `json:"confidence"`
	Summary          PreviewSummary     `json:"summary"`
	ErrorSamples     []ErrorPreview     `json:"error_samples"`
	DuplicateSamples []DuplicatePreview `json:"duplicate_samples"`
	ProcessingTimeMs int64              `json:"processing_time_ms"`
}

// Sample limits
const (
	maxErrorSamples     = 20
	maxDuplicateSamples = 10
)

// Preview runs detection and validation over a file without persisting
// anything: no batch is created and no store is upserted. Product codes are
// looked up read-only, so missing mappings show up as they would in a batch.
func (s *Service) Preview(ctx context.Context, tenantID, resellerID, fileName string, data []byte) (*PreviewResponse, error) {
	start := time.Now()
	if tenantID == "" || resellerID == "" {
		return nil, errors.New("invalid request: tenant and reseller are required")
	}
	if s.cfg.MaxFileSize > 0 && int64(len(data)) > s.cfg.MaxFileSize {
		return nil, ErrFileTooLarge
	}

	wb, err := ParseWorkbook(data, fileName)
	if err != nil {
		return nil, fmt.Errorf("invalid request: unreadable file: %w", err)
	}
	det := Detect(wb, fileName, resellerID)
	if !det.Resolved() {
		return nil, ErrFormatUnresolved
	}
	f, _ := GetFormat(det.Format)

	records := Stage(uuid.Nil, det, wb)
	resp := &PreviewResponse{
		Format:           det.Format,
		Confidence:       det.Confidence,
		Summary:          PreviewSummary{TotalRows: len(records)},
		ErrorSamples:     []ErrorPreview{},
		DuplicateSamples: []DuplicatePreview{},
	}

	validator := NewValidator(f, s.cfg.CanonicalCurrency)
	products := NewProductMapper(s.repo)
	keys := make(map[string][]int)
	var order []string

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res := validator.Validate(rec)
		errs := res.Errors
		productID := ""
		if res.Valid() {
			pr, err := products.Resolve(ctx, tenantID, resellerID, f.Rules.Product, res.Fields.ProductCode)
			if err != nil {
				return nil, err
			}
			if pr.Problem != nil {
				errs = append(errs, *pr.Problem)
			}
			productID = pr.CanonicalID
		}

		if len(errs) > 0 {
			resp.Summary.ErrorRows++
			if len(resp.ErrorSamples) < maxErrorSamples {
				resp.ErrorSamples = append(resp.ErrorSamples, ErrorPreview{
					RowOrdinal: rec.Ordinal,
					Values:     rec.Payload,
					Errors:     errs,
				})
			}
			continue
		}
		resp.Summary.ValidRows++

		key := previewKey(productID, res.Fields)
		if _, seen := keys[key]; !seen {
			order = append(order, key)
		}
		keys[key] = append(keys[key], rec.Ordinal)
	}

	for _, key := range order {
		ordinals := keys[key]
		if len(ordinals) < 2 {
			continue
		}
		resp.Summary.DuplicateInFile += len(ordinals) - 1
		if len(resp.DuplicateSamples) < maxDuplicateSamples {
			resp.DuplicateSamples = append(resp.DuplicateSamples, DuplicatePreview{Key: key, RowOrdinals: ordinals})
		}
	}

	resp.ProcessingTimeMs = time.Since(start).Milliseconds()
	return resp, nil
}

// previewKey mirrors the natural key with the store name in place of its id.
func previewKey(productID string, f ResolvedFields) string {
	return productID + "|" + f.TransactionDate.Format(time.DateOnly) + "|" +
		NormalizeStoreName(f.StoreName) + "|" + strconv.FormatInt(f.Quantity, 10)
}
