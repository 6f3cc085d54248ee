package core

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BatchState is the lifecycle state of an UploadBatch.
type BatchState string

const (
	StatePending          BatchState = "pending"
	StateStaged           BatchState = "staged"
	StateValidated        BatchState = "validated"
	StateAwaitingApproval BatchState = "awaiting_approval"
	StateApproved         BatchState = "approved"
	StateCommitted        BatchState = "committed"
	StatePartialSuccess   BatchState = "partial_success"
	StateFailed           BatchState = "failed"
)

// Terminal reports whether no further automatic progress happens from s.
func (s BatchState) Terminal() bool {
	switch s {
	case StateCommitted, StatePartialSuccess, StateFailed:
		return true
	}
	return false
}

// Finalized reports whether rows of the batch have reached the fact table.
func (s BatchState) Finalized() bool {
	return s == StateCommitted || s == StatePartialSuccess
}

// RecordState is the per-row validation state of a StagingRecord.
type RecordState string

const (
	RecordPending   RecordState = "pending"
	RecordValid     RecordState = "valid"
	RecordFailed    RecordState = "failed"
	RecordCommitted RecordState = "committed"
)

// Channel classifies a store as online or physical.
type Channel string

const (
	ChannelOnline   Channel = "online"
	ChannelPhysical Channel = "physical"
)

// Batch is one submitted file and its processing lifecycle.
type Batch struct {
	ID            uuid.UUID
	TenantID      string
	ResellerID    string
	FileName      string
	FileHandle    string
	Format        string // empty until detected
	ContentHash   string
	State         BatchState
	RowsTotal     int
	RowsCommitted int
	RowsFailed    int
	Cause         string
	Attempts      int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// StagingRecord is one raw row of a batch.
type StagingRecord struct {
	BatchID    uuid.UUID
	Ordinal    int               // 1-based data row position in file order
	Sheet      string            // sheet the row came from
	Payload    map[string]string // source header -> raw cell, verbatim
	ParseError string            // non-empty when the row could not be read
	Resolved   ResolvedFields
	State      RecordState
}

// ResolvedFields is populated incrementally by validation and resolution.
type ResolvedFields struct {
	ProductCode        string          `json:"product_code,omitempty"`
	CanonicalProductID string          `json:"canonical_product_id,omitempty"`
	StoreName          string          `json:"store_name,omitempty"`
	StoreID            uuid.UUID       `json:"store_id,omitempty"`
	Channel            Channel         `json:"channel,omitempty"`
	TransactionDate    time.Time       `json:"transaction_date,omitempty"`
	Quantity           int64           `json:"quantity"`
	SourceAmount       decimal.Decimal `json:"source_amount"`
	SourceCurrency     string          `json:"source_currency,omitempty"`
	Amount             decimal.Decimal `json:"amount"`
}

// RowError is one problem found on one row.
type RowError struct {
	Kind       ErrorKind
	Field      string
	Value      string
	Message    string
	Suggestion string // advisory only, never applied automatically
}

// ValidationError is a persisted RowError bound to a batch row.
type ValidationError struct {
	BatchID uuid.UUID
	Ordinal int
	RowError
	CreatedAt time.Time
}

// Store is a canonical point of sale scoped to tenant and reseller.
type Store struct {
	ID             uuid.UUID
	TenantID       string
	ResellerID     string
	Name           string
	NormalizedName string
	Channel        Channel
	CreatedAt      time.Time
}

// ProductMapping binds a reseller product code to a canonical product id.
type ProductMapping struct {
	ID          uuid.UUID
	TenantID    string
	ResellerID  string
	SourceCode  string
	CanonicalID string
	CreatedAt   time.Time
}

// SalesRecord is one committed, reconciled sale.
type SalesRecord struct {
	ID                 uuid.UUID
	TenantID           string
	ResellerID         string
	CanonicalProductID string
	StoreID            uuid.UUID
	TransactionDate    time.Time
	Quantity           int64
	Amount             decimal.Decimal
	SourceCurrency     string
	SourceAmount       decimal.Decimal
	BatchID            uuid.UUID
	UpdatedAt          time.Time
}

// NaturalKey identifies one real-world sale for correction semantics.
type NaturalKey struct {
	TenantID           string
	ResellerID         string
	CanonicalProductID string
	TransactionDate    string // YYYY-MM-DD
	StoreID            uuid.UUID
	Quantity           int64
}

// Key returns the natural key of r.
func (r SalesRecord) Key() NaturalKey {
	return NaturalKey{
		TenantID:           r.TenantID,
		ResellerID:         r.ResellerID,
		CanonicalProductID: r.CanonicalProductID,
		TransactionDate:    r.TransactionDate.Format(time.DateOnly),
		StoreID:            r.StoreID,
		Quantity:           r.Quantity,
	}
}

// BatchCounts holds the row counters of a batch.
type BatchCounts struct {
	Total     int `json:"total"`
	Committed int `json:"committed"`
	Failed    int `json:"failed"`
}

// BatchStatus is the externally visible status of a batch.
type BatchStatus struct {
	BatchID   uuid.UUID   `json:"batch_id"`
	State     BatchState  `json:"state"`
	Format    string      `json:"format,omitempty"`
	Counts    BatchCounts `json:"counts"`
	Cause     string      `json:"cause,omitempty"`
	CauseKind ErrorKind   `json:"cause_kind,omitempty"` // set when Cause belongs to the taxonomy
}

// ErrorEntry is one line of a batch error report.
type ErrorEntry struct {
	RowOrdinal int       `json:"row_ordinal"`
	Kind       ErrorKind `json:"error_kind"`
	Message    string    `json:"message"`
	Field      string    `json:"field,omitempty"`
	Value      string    `json:"value,omitempty"`
	Suggestion string    `json:"suggestion,omitempty"`
}

// SubmitRequest asks the core to ingest a stored file.
type SubmitRequest struct {
	TenantID   string `validate:"required"`
	ResellerID string `validate:"required"`
	FileHandle string `validate:"required"`
	FileName   string
}

// SubmitResult reports the batch bound to a submission.
type SubmitResult struct {
	BatchID   uuid.UUID  `json:"batch_id"`
	State     BatchState `json:"state"`
	Duplicate bool       `json:"duplicate"`
}
