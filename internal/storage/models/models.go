package models

import "time"

// Collections partition the document corpus.
const (
	CollectionDoctrine = "doctrine"
	CollectionAAR      = "aar"
	CollectionScenario = "scenario"
	CollectionIntel    = "intel"
	CollectionOther    = "other"
)

var Collections = []string{
	CollectionDoctrine,
	CollectionAAR,
	CollectionScenario,
	CollectionIntel,
	CollectionOther,
}

var CollectionDescriptions = map[string]string{
	CollectionDoctrine: "Doctrine publications and field manuals",
	CollectionAAR:      "After-action reports and lessons learned",
	CollectionScenario: "Scenario designs, orders and injects",
	CollectionIntel:    "Intelligence summaries and assessments",
	CollectionOther:    "Uncategorized reference material",
}

func ValidCollection(name string) bool {
	for _, c := range Collections {
		if c == name {
			return true
		}
	}
	return false
}

// Memory scopes namespace memory records.
const (
	ScopeUser     = "user"
	ScopeScenario = "scenario"
	ScopeAgent    = "agent"
)

var Scopes = []string{ScopeUser, ScopeScenario, ScopeAgent}

func ValidScope(name string) bool {
	for _, s := range Scopes {
		if s == name {
			return true
		}
	}
	return false
}

type Document struct {
	DocumentID  string    `json:"document_id"`
	SourcePath  string    `json:"source_path"`
	Collection  string    `json:"collection"`
	Title       string    `json:"title"`
	Year        *int      `json:"year,omitempty"`
	Doctrine    string    `json:"doctrine,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Fingerprint string    `json:"-"`
	ChunkCount  int       `json:"chunk_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Chunk struct {
	ChunkID    string `json:"chunk_id"`
	DocumentID string `json:"document_id"`
	ChunkIndex int    `json:"chunk_index"`
	ChunkCount int    `json:"chunk_count"`
	Text       string `json:"text"`
	OCR        bool   `json:"ocr"`
}

type SearchResult struct {
	ChunkID  string         `json:"chunk_id"`
	Score    float64        `json:"score"`
	Text     string         `json:"text"`
	Metadata ResultMetadata `json:"metadata"`
}

// ResultMetadata is the document metadata denormalized onto every indexed
// chunk and returned with search hits.
type ResultMetadata struct {
	DocumentID string   `json:"document_id"`
	SourcePath string   `json:"source_path,omitempty"`
	Collection string   `json:"collection"`
	Title      string   `json:"title,omitempty"`
	Year       *int     `json:"year,omitempty"`
	Doctrine   string   `json:"doctrine,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	ChunkIndex int      `json:"chunk_index"`
	ChunkCount int      `json:"chunk_count"`
	OCR        bool     `json:"ocr"`
}

type CollectionInfo struct {
	Name          string `json:"name"`
	DocumentCount int    `json:"document_count"`
	Description   string `json:"description"`
}

// Health statuses for the retrieval subsystem.
const (
	HealthOK       = "ok"
	HealthDegraded = "degraded"
	HealthError    = "error"
)

type HealthStatus struct {
	Status  string `json:"status"`
	Details string `json:"details"`
}

type IngestSuccess struct {
	Path       string `json:"path"`
	DocumentID string `json:"document_id"`
	Collection string `json:"collection"`
	ChunkCount int    `json:"chunk_count"`
}

type IngestFailure struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// BatchReport is the always-produced outcome of a batch ingest: one entry per
// input path, success or failure, never an abort.
type BatchReport struct {
	Succeeded []IngestSuccess `json:"succeeded"`
	Failed    []IngestFailure `json:"failed"`
}

func (r *BatchReport) TotalChunks() int {
	total := 0
	for _, s := range r.Succeeded {
		total += s.ChunkCount
	}
	return total
}

type MemoryRecord struct {
	MemoryID   string    `json:"memory_id"`
	UserID     string    `json:"user_id"`
	Scope      string    `json:"scope"`
	Memory     string    `json:"memory"`
	Tags       []string  `json:"tags,omitempty"`
	Source     string    `json:"source,omitempty"`
	Importance float64   `json:"importance"`
	CreatedAt  time.Time `json:"created_at"`
}

type MemoryHit struct {
	MemoryRecord
	Score float64 `json:"score"`
}

// Memory operation statuses.
const (
	MemoryCreated       = "created"
	MemoryDeduplicated  = "deduplicated"
	MemoryRejectedQuota = "rejected_quota"
	MemoryDeleted       = "deleted"
	MemoryNotFound      = "not_found"
)

type MemoryAddResult struct {
	MemoryID string `json:"memory_id"`
	Status   string `json:"status"`
}

// Orchestration session statuses.
const (
	SessionRunning   = "running"
	SessionCompleted = "completed"
	SessionPartial   = "partial"
	SessionFailed    = "failed"
)

// Tool call outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
)

type ToolCallAttempt struct {
	ToolName      string `json:"tool_name"`
	AttemptNumber int    `json:"attempt_number"`
	Outcome       string `json:"outcome"`
	LatencyMS     int64  `json:"latency_ms"`
}

type ToolResult struct {
	Tool   string `json:"tool"`
	Output any    `json:"output"`
}

type OrchestrationSession struct {
	CorrelationID      string            `json:"correlation_id"`
	UserID             string            `json:"user_id"`
	IterationCount     int               `json:"iteration_count"`
	AccumulatedResults []ToolResult      `json:"accumulated_results"`
	Attempts           []ToolCallAttempt `json:"attempts"`
	Status             string            `json:"status"`
	Answer             string            `json:"answer,omitempty"`
	FailureReason      string            `json:"failure_reason,omitempty"`
	StartedAt          time.Time         `json:"started_at"`
	FinishedAt         time.Time         `json:"finished_at"`
}
