package repository

import (
	"context"

	"bloodreport/internal/model"
)

// AnalysisRepository persists the append-only log of uploaded files and their analyses.
// There is deliberately no update or delete.
type AnalysisRepository interface {
	// Save inserts the file row and the analysis row referencing it in a single transaction.
	Save(ctx context.Context, file *model.File, analysis *model.Analysis) error

	// FindByID returns the joined record for an analysis ID, or sql.ErrNoRows.
	FindByID(ctx context.Context, id string) (*model.AnalysisRecord, error)

	// List returns a newest-first page of records and the total row count.
	List(ctx context.Context, pq PageQuery) (*PageResult[model.AnalysisRecord], error)

	// Recent returns the newest n records, or every record when n <= 0.
	Recent(ctx context.Context, n int) ([]model.AnalysisRecord, error)

	// All returns every record oldest-first.
	All(ctx context.Context) ([]model.AnalysisRecord, error)
}

// PageQuery holds limit/offset pagination parameters.
type PageQuery struct {
	Limit  int
	Offset int
}

// PageResult is a generic pagination result wrapper.
type PageResult[T any] struct {
	Items []T
	Total int
}
