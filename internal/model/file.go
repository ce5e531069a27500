package model

import "time"

// File is an uploaded report as recorded in the files table.
// StoredPath is either the archive object key or the temporary path the report was read from.
type File struct {
	ID         string    `json:"id" db:"id"`
	Filename   string    `json:"filename" db:"filename"`
	StoredPath string    `json:"stored_path" db:"stored_path"`
	Size       int64     `json:"size" db:"size"`
	UploadedAt time.Time `json:"uploaded_at" db:"uploaded_at"`
}
