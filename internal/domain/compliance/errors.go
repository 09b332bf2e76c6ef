package compliance

import "fmt"

// ExtractionError indicates a malformed or unsupported source document.
type ExtractionError struct {
	Kind   string // file kind or encoding
	Reason string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed for %s: %s", e.Kind, e.Reason)
}

// RetrievalError indicates the embedding or vector-search gateway failed.
// Fatal to a single evaluation: there is no safe fallback for missing
// context.
type RetrievalError struct {
	Op  string
	Err error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval failed during %s: %v", e.Op, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// PersistenceError indicates a store write/read failed. Fatal to the
// operation that needed it.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failed during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// MalformedRecordError marks a stored decision whose transaction payload
// cannot be parsed for replay. Skipped and counted, never fatal to a batch.
type MalformedRecordError struct {
	TraceID string
	Err     error
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("decision %s has malformed payload: %v", e.TraceID, e.Err)
}

func (e *MalformedRecordError) Unwrap() error { return e.Err }
