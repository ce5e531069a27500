package sqlstore

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"bloodreport/internal/model"
	"bloodreport/internal/repository"
)

// AnalysisStore is a SQL implementation of repository.AnalysisRepository.
// Queries are written with '?' placeholders and rebound for the connected driver,
// so the same store serves SQLite and PostgreSQL.
type AnalysisStore struct {
	db *sqlx.DB
}

// NewAnalysisStore creates a new AnalysisStore.
func NewAnalysisStore(db *sqlx.DB) *AnalysisStore {
	return &AnalysisStore{db: db}
}

var _ repository.AnalysisRepository = (*AnalysisStore)(nil)

const recordColumns = `
	SELECT a.id, a.file_id, f.filename, f.stored_path, a.query, a.output, a.status, a.analyzed_at
	FROM analysis a
	JOIN files f ON a.file_id = f.id`

// Save inserts both rows atomically so an analysis never exists without its file.
func (r *AnalysisStore) Save(ctx context.Context, file *model.File, analysis *model.Analysis) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const qFile = `INSERT INTO files (id, filename, stored_path, size, uploaded_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, tx.Rebind(qFile),
		file.ID,
		file.Filename,
		file.StoredPath,
		file.Size,
		file.UploadedAt,
	); err != nil {
		return fmt.Errorf("insert file: %w", err)
	}

	const qAnalysis = `INSERT INTO analysis (id, file_id, query, output, status, analyzed_at) VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, tx.Rebind(qAnalysis),
		analysis.ID,
		analysis.FileID,
		analysis.Query,
		analysis.Output,
		analysis.Status,
		analysis.AnalyzedAt,
	); err != nil {
		return fmt.Errorf("insert analysis: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// FindByID fetches a single record by analysis ID.
func (r *AnalysisStore) FindByID(ctx context.Context, id string) (*model.AnalysisRecord, error) {
	var rec model.AnalysisRecord
	q := r.db.Rebind(recordColumns + ` WHERE a.id = ?`)
	if err := r.db.GetContext(ctx, &rec, q, id); err != nil {
		return nil, err
	}
	return &rec, nil
}

// List returns records using LIMIT/OFFSET pagination and a total count.
func (r *AnalysisStore) List(ctx context.Context, pq repository.PageQuery) (*repository.PageResult[model.AnalysisRecord], error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM analysis`); err != nil {
		return nil, err
	}

	items := make([]model.AnalysisRecord, 0)
	q := r.db.Rebind(recordColumns + ` ORDER BY a.analyzed_at DESC, a.id DESC LIMIT ? OFFSET ?`)
	if err := r.db.SelectContext(ctx, &items, q, pq.Limit, pq.Offset); err != nil {
		return nil, err
	}

	return &repository.PageResult[model.AnalysisRecord]{
		Items: items,
		Total: total,
	}, nil
}

// Recent returns the newest n records; n <= 0 returns all of them.
func (r *AnalysisStore) Recent(ctx context.Context, n int) ([]model.AnalysisRecord, error) {
	items := make([]model.AnalysisRecord, 0)
	q := recordColumns + ` ORDER BY a.analyzed_at DESC, a.id DESC`
	if n <= 0 {
		if err := r.db.SelectContext(ctx, &items, q); err != nil {
			return nil, err
		}
		return items, nil
	}

	if err := r.db.SelectContext(ctx, &items, r.db.Rebind(q+` LIMIT ?`), n); err != nil {
		return nil, err
	}
	return items, nil
}

// All returns every record in insertion order.
func (r *AnalysisStore) All(ctx context.Context) ([]model.AnalysisRecord, error) {
	items := make([]model.AnalysisRecord, 0)
	if err := r.db.SelectContext(ctx, &items, recordColumns+` ORDER BY a.analyzed_at ASC, a.id ASC`); err != nil {
		return nil, err
	}
	return items, nil
}
