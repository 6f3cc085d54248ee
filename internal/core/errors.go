package core

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrorKind is the closed taxonomy of ingestion problems.
type ErrorKind string

const (
	KindFormatUnresolved           ErrorKind = "FormatUnresolved"
	KindRowParseError              ErrorKind = "RowParseError"
	KindMissingRequiredField       ErrorKind = "MissingRequiredField"
	KindInvalidFieldValue          ErrorKind = "InvalidFieldValue"
	KindMappingNotFound            ErrorKind = "MappingNotFound"
	KindDuplicateUpload            ErrorKind = "DuplicateUpload"
	KindInfrastructureFailure      ErrorKind = "InfrastructureFailure"
	KindApprovalPreconditionFailed ErrorKind = "ApprovalPreconditionFailed"
)

// RowLevel reports whether the kind only excludes a row and never aborts a batch.
func (k ErrorKind) RowLevel() bool {
	switch k {
	case KindRowParseError, KindMissingRequiredField, KindInvalidFieldValue, KindMappingNotFound:
		return true
	}
	return false
}

var (
	ErrBatchNotFound        = errors.New("batch not found")
	ErrStateConflict        = errors.New("batch state conflict")
	ErrFormatUnresolved     = &KindError{Kind: KindFormatUnresolved, Err: errors.New("file format unresolved")}
	ErrApprovalPrecondition = &KindError{Kind: KindApprovalPreconditionFailed, Err: errors.New("batch is not awaiting approval")}
	ErrMappingNotFound      = errors.New("product mapping not found")
	ErrUnknownFormat        = errors.New("unknown format")
)

// KindError attaches a taxonomy kind to an error.
type KindError struct {
	Kind ErrorKind
	Err  error
}

func (e *KindError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *KindError) Unwrap() error {
	return e.Err
}

// Is matches any KindError of the same kind.
func (e *KindError) Is(target error) bool {
	t, ok := target.(*KindError)
	return ok && t.Kind == e.Kind
}

// WithKind wraps err with kind. Returns nil for a nil err.
func WithKind(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &KindError{Kind: kind, Err: err}
}

// KindOf returns the taxonomy kind of err, or "" if it carries none.
// Transient infrastructure errors report KindInfrastructureFailure.
func KindOf(err error) ErrorKind {
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	if IsTransient(err) {
		return KindInfrastructureFailure
	}
	return ""
}

// IsTransient reports whether err is an infrastructure failure worth retrying:
// connection loss, timeouts, serialization failures, resource exhaustion.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind == KindInfrastructureFailure
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch sqlstateClass(pgErr.Code) {
		case "08", // connection exception
			"40", // transaction rollback (serialization, deadlock)
			"53", // insufficient resources
			"57": // operator intervention (shutdown, query canceled by admin)
			return true
		}
		return false
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}

// IsRowRejection reports whether a storage error refers to the data of a
// single row (data exception, integrity violation) rather than the system.
func IsRowRejection(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		class := sqlstateClass(pgErr.Code)
		return class == "22" || class == "23"
	}
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind == KindInvalidFieldValue
	}
	return false
}

func sqlstateClass(code string) string {
	if len(code) < 2 {
		return ""
	}
	return code[:2]
}
