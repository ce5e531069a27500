package model

import "time"

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Analysis is one crew run over a File. Rows are append-only.
type Analysis struct {
	ID         string    `json:"id" db:"id"`
	FileID     string    `json:"file_id" db:"file_id"`
	Query      string    `json:"query" db:"query"`
	Output     string    `json:"output" db:"output"`
	Status     string    `json:"status" db:"status"`
	AnalyzedAt time.Time `json:"analyzed_at" db:"analyzed_at"`
}

// AnalysisRecord joins an analysis with the file it references.
type AnalysisRecord struct {
	ID         string    `json:"id" db:"id"`
	FileID     string    `json:"file_id" db:"file_id"`
	Filename   string    `json:"filename" db:"filename"`
	StoredPath string    `json:"stored_path" db:"stored_path"`
	Query      string    `json:"query" db:"query"`
	Output     string    `json:"output" db:"output"`
	Status     string    `json:"status" db:"status"`
	AnalyzedAt time.Time `json:"analyzed_at" db:"analyzed_at"`
}
