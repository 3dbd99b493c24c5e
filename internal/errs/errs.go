// Package errs defines the error taxonomy shared across the ingestion,
// retrieval, memory and orchestration layers. Recoverable conditions are
// converted to structured status values close to their source; only session
// exhaustion and startup configuration errors propagate as hard failures.
package errs

import (
	"fmt"
	"time"
)

// ExtractionError reports a per-file text extraction failure. It is caught by
// the ingestor and recorded in the batch report, never aborting the batch.
type ExtractionError struct {
	Path string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed for %s: %v", e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// EmbeddingError reports an embedding provider failure for one document.
type EmbeddingError struct {
	Err error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding request failed: %v", e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// IndexUpsertError reports a vector index or catalog write failure for one
// document.
type IndexUpsertError struct {
	DocumentID string
	Err        error
}

func (e *IndexUpsertError) Error() string {
	return fmt.Sprintf("index upsert failed for document %s: %v", e.DocumentID, e.Err)
}

func (e *IndexUpsertError) Unwrap() error { return e.Err }

// ValidationError reports invalid metadata. Resolution degrades to defaults
// and surfaces this as a warning, never as a fatal failure.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ToolInvocationError reports a tool call failure (network error or timeout).
// It feeds the retry and circuit breaker logic and never crashes a session.
type ToolInvocationError struct {
	Tool string
	Err  error
}

func (e *ToolInvocationError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ToolInvocationError) Unwrap() error { return e.Err }

// QuotaExceededError is surfaced to callers as a status value, not thrown.
type QuotaExceededError struct {
	UserID string
	Quota  int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("daily memory quota of %d exceeded for user %s", e.Quota, e.UserID)
}

// CircuitOpenError marks a call skipped because the tool's breaker is open.
// It triggers the fallback path and is not user-visible unless every source
// is exhausted.
type CircuitOpenError struct {
	Tool  string
	Until time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for tool %s until %s", e.Tool, e.Until.Format(time.RFC3339))
}

// OrchestrationTimeoutError terminates a session with partial results.
type OrchestrationTimeoutError struct {
	Elapsed time.Duration
}

func (e *OrchestrationTimeoutError) Error() string {
	return fmt.Sprintf("orchestration session timed out after %s", e.Elapsed)
}

// ConfigurationError reports a missing or invalid required option. Fatal at
// startup only.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}
