package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// BlobOpener reads uploaded files by opaque handle.
type BlobOpener interface {
	Open(ctx context.Context, handle string) (io.ReadCloser, error)
}

// Event tells collaborators that a batch reached a state worth reporting.
type Event struct {
	BatchID    uuid.UUID   `json:"batch_id"`
	TenantID   string      `json:"tenant_id"`
	ResellerID string      `json:"reseller_id"`
	State      BatchState  `json:"state"`
	Counts     BatchCounts `json:"counts"`
	Cause      string      `json:"cause,omitempty"`
	CauseKind  ErrorKind   `json:"cause_kind,omitempty"`
	At         time.Time   `json:"at"`
}

// Notifier is informed of batch completion, failure and review requests.
// Delivery is best effort; errors never affect the batch.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// Observer records pipeline measurements.
type Observer interface {
	BatchFinished(state BatchState)
	RowsProcessed(outcome string, n int)
	StageDuration(stage string, d time.Duration)
}

// Dispatcher schedules batches for asynchronous processing.
type Dispatcher interface {
	Dispatch(ctx context.Context, id uuid.UUID) error
	Cancel(id uuid.UUID)
}

// PipelineConfig tunes batch processing.
type PipelineConfig struct {
	CanonicalCurrency string
	RowConcurrency    int
	MaxAttempts       int
	BaseBackoff       time.Duration
	MaxBackoff        time.Duration
	StepTimeout       time.Duration
	MaxFileSize       int64
}

func (c PipelineConfig) withDefaults() PipelineConfig {
	if c.CanonicalCurrency == "" {
		c.CanonicalCurrency = "EUR"
	}
	if c.RowConcurrency <= 0 {
		c.RowConcurrency = 8
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = time.Minute
	}
	if c.StepTimeout <= 0 {
		c.StepTimeout = 5 * time.Minute
	}
	return c
}

// Deps are the collaborators of the Service. Notifier, Observer and
// Dispatcher are optional.
type Deps struct {
	Repo       Repository
	Blobs      BlobOpener
	Notifier   Notifier
	Observer   Observer
	Dispatcher Dispatcher
}

// Service is the ingestion core. Every operation takes an explicit tenant id.
type Service struct {
	repo       Repository
	blobs      BlobOpener
	notifier   Notifier
	observer   Observer
	dispatcher Dispatcher
	cfg        PipelineConfig
	validate   *validator.Validate
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewService wires a Service.
func NewService(deps Deps, cfg PipelineConfig) *Service {
	s := &Service{
		repo:       deps.Repo,
		blobs:      deps.Blobs,
		notifier:   deps.Notifier,
		observer:   deps.Observer,
		dispatcher: deps.Dispatcher,
		cfg:        cfg.withDefaults(),
		validate:   validator.New(),
		sleep:      sleepContext,
	}
	if s.notifier == nil {
		s.notifier = nopNotifier{}
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}
	return s
}

// SetDispatcher attaches the dispatcher after construction, for dispatchers
// whose workers call back into the service.
func (s *Service) SetDispatcher(d Dispatcher) {
	s.dispatcher = d
}

// Submit registers a stored file for ingestion. Identical content for the
// same tenant returns the existing batch with Duplicate set.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return SubmitResult{}, fmt.Errorf("invalid request: %w", err)
	}

	rc, err := s.blobs.Open(ctx, req.FileHandle)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return SubmitResult{}, fmt.Errorf("invalid request: file %q not found", req.FileHandle)
		}
		return SubmitResult{}, WithKind(KindInfrastructureFailure, fmt.Errorf("open blob: %w", err))
	}
	content, err := ReadContent(rc, s.cfg.MaxFileSize)
	rc.Close()
	if err != nil {
		return SubmitResult{}, err
	}

	fileName := req.FileName
	if fileName == "" {
		fileName = req.FileHandle
	}

	b, created, err := s.repo.CreateBatch(ctx, Batch{
		ID:          uuid.New(),
		TenantID:    req.TenantID,
		ResellerID:  req.ResellerID,
		FileName:    fileName,
		FileHandle:  req.FileHandle,
		ContentHash: content.Hash,
		State:       StatePending,
	})
	if err != nil {
		return SubmitResult{}, fmt.Errorf("create batch: %w", err)
	}

	if !created {
		slog.Info("duplicate upload",
			"batch_id", b.ID,
			"tenant_id", b.TenantID,
			"content_hash", b.ContentHash,
		)
		return SubmitResult{BatchID: b.ID, State: b.State, Duplicate: true}, nil
	}

	slog.Info("batch submitted",
		"batch_id", b.ID,
		"tenant_id", b.TenantID,
		"reseller_id", b.ResellerID,
		"file", b.FileName,
	)
	s.dispatch(ctx, b.ID)
	return SubmitResult{BatchID: b.ID, State: b.State}, nil
}

// GetStatus returns the state and counters of a batch.
func (s *Service) GetStatus(ctx context.Context, tenantID string, id uuid.UUID) (BatchStatus, error) {
	b, err := s.repo.GetBatch(ctx, tenantID, id)
	if err != nil {
		return BatchStatus{}, err
	}
	return statusOf(b), nil
}

// GetErrors returns the error report of a batch in row order.
func (s *Service) GetErrors(ctx context.Context, tenantID string, id uuid.UUID) ([]ErrorEntry, error) {
	errs, err := s.repo.ListValidationErrors(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	out := make([]ErrorEntry, len(errs))
	for i, e := range errs {
		out[i] = ErrorEntry{
			RowOrdinal: e.Ordinal,
			Kind:       e.Kind,
			Message:    e.Message,
			Field:      e.Field,
			Value:      e.Value,
			Suggestion: e.Suggestion,
		}
	}
	return out, nil
}

// Approve releases a batch awaiting review for commit.
func (s *Service) Approve(ctx context.Context, tenantID string, id uuid.UUID) (BatchState, error) {
	if _, err := s.repo.GetBatch(ctx, tenantID, id); err != nil {
		return "", err
	}

	b, err := s.repo.TransitionBatch(ctx, id, []BatchState{StateAwaitingApproval}, StateApproved, BatchUpdate{})
	if errors.Is(err, ErrStateConflict) {
		return "", ErrApprovalPrecondition
	}
	if err != nil {
		return "", err
	}

	slog.Info("batch approved", "batch_id", id, "tenant_id", tenantID)
	s.dispatch(ctx, id)
	return b.State, nil
}

// Retry restarts a failed batch from the originally stored file.
func (s *Service) Retry(ctx context.Context, tenantID string, id uuid.UUID) (BatchState, error) {
	b, err := s.repo.ResetBatch(ctx, tenantID, id)
	if errors.Is(err, ErrStateConflict) {
		return "", WithKind(KindApprovalPreconditionFailed, errors.New("only failed batches can be retried"))
	}
	if err != nil {
		return "", err
	}

	slog.Info("batch retried", "batch_id", id, "tenant_id", tenantID, "attempt", b.Attempts)
	s.dispatch(ctx, id)
	return b.State, nil
}

// Delete cancels in-flight work and purges staging data of a batch.
// Committed sales records are kept.
func (s *Service) Delete(ctx context.Context, tenantID string, id uuid.UUID) error {
	if _, err := s.repo.GetBatch(ctx, tenantID, id); err != nil {
		return err
	}
	if s.dispatcher != nil {
		s.dispatcher.Cancel(id)
	}
	if err := s.repo.DeleteBatch(ctx, tenantID, id); err != nil {
		return err
	}
	slog.Info("batch deleted", "batch_id", id, "tenant_id", tenantID)
	return nil
}

// Revalidate re-runs validation and resolution of a batch awaiting review,
// typically after mappings were confirmed, and applies the approval gate.
func (s *Service) Revalidate(ctx context.Context, tenantID string, id uuid.UUID) (BatchState, error) {
	b, err := s.repo.GetBatch(ctx, tenantID, id)
	if err != nil {
		return "", err
	}
	if b.State != StateAwaitingApproval {
		return "", ErrApprovalPrecondition
	}

	b, err = s.validateBatch(ctx, b, []BatchState{StateAwaitingApproval})
	if errors.Is(err, ErrStateConflict) {
		return "", ErrApprovalPrecondition
	}
	if err != nil {
		return "", err
	}
	b, err = s.gate(ctx, b)
	if err != nil {
		return "", err
	}
	if b.State == StateApproved {
		s.dispatch(ctx, id)
	}
	return b.State, nil
}

// ConfirmMapping records a reviewer-confirmed product mapping.
func (s *Service) ConfirmMapping(ctx context.Context, tenantID, resellerID, sourceCode, canonicalID string) (ProductMapping, error) {
	req := struct {
		TenantID    string `validate:"required"`
		ResellerID  string `validate:"required"`
		SourceCode  string `validate:"required"`
		CanonicalID string `validate:"required"`
	}{tenantID, resellerID, NormalizeProductCode(sourceCode), CleanCell(canonicalID)}
	if err := s.validate.Struct(req); err != nil {
		return ProductMapping{}, fmt.Errorf("invalid request: %w", err)
	}

	pm, err := s.repo.UpsertProductMapping(ctx, ProductMapping{
		TenantID:    req.TenantID,
		ResellerID:  req.ResellerID,
		SourceCode:  req.SourceCode,
		CanonicalID: req.CanonicalID,
	})
	if err != nil {
		return ProductMapping{}, fmt.Errorf("upsert product mapping: %w", err)
	}
	slog.Info("product mapping confirmed",
		"tenant_id", tenantID,
		"reseller_id", resellerID,
		"source_code", pm.SourceCode,
		"canonical_id", pm.CanonicalID,
	)
	return pm, nil
}

// SuggestMappings lists existing mappings similar to code. Advisory only.
func (s *Service) SuggestMappings(ctx context.Context, tenantID, resellerID, code string) ([]Suggestion, error) {
	return NewProductMapper(s.repo).Suggest(ctx, tenantID, resellerID, code)
}

// FormatInfo describes a catalog format for listing.
type FormatInfo struct {
	Name       string   `json:"name"`
	ResellerID string   `json:"reseller_id"`
	Label      string   `json:"label"`
	Required   []string `json:"required_columns"`
}

// ListFormats returns the format catalog.
func (s *Service) ListFormats() []FormatInfo {
	formats := Formats()
	out := make([]FormatInfo, len(formats))
	for i, f := range formats {
		out[i] = FormatInfo{Name: f.Name, ResellerID: f.ResellerID, Label: f.Label, Required: f.RequiredHeaders()}
	}
	return out
}

// Ping checks the repository.
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

func (s *Service) dispatch(ctx context.Context, id uuid.UUID) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Dispatch(ctx, id); err != nil {
		// the sweeper and startup recovery pick the batch up later
		slog.Error("dispatch batch", "batch_id", id, "error", err)
	}
}

func statusOf(b Batch) BatchStatus {
	return BatchStatus{
		BatchID:   b.ID,
		State:     b.State,
		Format:    b.Format,
		Counts:    BatchCounts{Total: b.RowsTotal, Committed: b.RowsCommitted, Failed: b.RowsFailed},
		Cause:     b.Cause,
		CauseKind: CauseKind(b.State, b.Cause),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Event) error { return nil }

type nopObserver struct{}

func (nopObserver) BatchFinished(BatchState)             {}
func (nopObserver) RowsProcessed(string, int)            {}
func (nopObserver) StageDuration(string, time.Duration) {}
