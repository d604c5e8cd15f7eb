package repository

import "fmt"

// IndexStatus is the terminal state of one indexing attempt.
type IndexStatus string

const (
	StatusIndexed IndexStatus = "indexed"
	StatusSkipped IndexStatus = "skipped"
	StatusFailed  IndexStatus = "failed"
)

// SkippedMessage is reported when a record is fresher than the staleness window.
const SkippedMessage = "Recently indexed"

// IndexResult reports one indexing attempt.
type IndexResult struct {
	Status      IndexStatus `json:"status"`
	RepoID      int64       `json:"repo_id"`
	FullName    string      `json:"full_name"`
	Description string      `json:"description,omitempty"`
	Message     string      `json:"message,omitempty"`
}

// Failed builds a failed result. RepoID is always 0.
func Failed(fullName, message string) IndexResult {
	return IndexResult{Status: StatusFailed, FullName: fullName, Message: message}
}

// BatchIndexResult accumulates outcomes across a batch.
type BatchIndexResult struct {
	Total   int      `json:"total"`
	Indexed int      `json:"indexed"`
	Skipped int      `json:"skipped"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors"`
}

// Record adds one outcome. Failures append "owner/name: message".
func (b *BatchIndexResult) Record(id Identity, r IndexResult) {
	b.Total++
	switch r.Status {
	case StatusIndexed:
		b.Indexed++
	case StatusSkipped:
		b.Skipped++
	default:
		b.Failed++
		b.Errors = append(b.Errors, fmt.Sprintf("%s: %s", id.FullName(), r.Message))
	}
}

// SearchResult is one fused hit from the dual-vector search.
type SearchResult struct {
	ID           uint64  `json:"id"`
	Score        float64 `json:"score"`
	PurposeScore float64 `json:"purpose_score"`
	StackScore   float64 `json:"stack_score"`
	Payload      Payload `json:"payload"`
}
