package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrConflict              = errors.New("conflict")
	ErrUnknownSource         = errors.New("unknown source type")
	ErrSchemaViolation       = errors.New("schema violation")
	ErrRawStorage            = errors.New("raw payload storage failed")
	ErrIndexPending          = errors.New("stored but not indexed")
	ErrExtractionUnavailable = errors.New("extraction unavailable")
	ErrAlreadyExists         = errors.New("object already exists")
	ErrInvalidArgument       = errors.New("invalid argument")
)

// Kind classifies an ingestion condition. Only KindSchemaViolation and
// KindStorageFailureRaw fail a request; the other kinds are advisory.
type Kind string

const (
	KindSchemaViolation       Kind = "schema_violation"
	KindExtractionUnavailable Kind = "extraction_unavailable"
	KindSemanticWarning       Kind = "semantic_warning"
	KindLinkageMissing        Kind = "linkage_missing"
	KindStorageFailureRaw     Kind = "storage_failure_raw"
	KindStorageFailureIndex   Kind = "storage_failure_index"
)

// IsFatal reports whether a condition of this kind fails the ingest request.
func (k Kind) IsFatal() bool {
	return k == KindSchemaViolation || k == KindStorageFailureRaw
}

// IngestError is returned by the ingestion pipeline for fatal conditions.
type IngestError struct {
	Kind    Kind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *IngestError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *IngestError) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is match an IngestError against the sentinel for its kind.
func (e *IngestError) Is(target error) bool {
	switch e.Kind {
	case KindSchemaViolation:
		return target == ErrSchemaViolation
	case KindStorageFailureRaw:
		return target == ErrRawStorage
	case KindStorageFailureIndex:
		return target == ErrIndexPending
	case KindExtractionUnavailable:
		return target == ErrExtractionUnavailable
	}
	return false
}

// NewIngestError creates an IngestError of the given kind.
func NewIngestError(kind Kind, message string, cause error) *IngestError {
	return &IngestError{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind from err, or "" if err is not an IngestError.
func KindOf(err error) Kind {
	var ie *IngestError
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return ""
}
