// Package events announces completed analyses to downstream consumers.
package events

import (
	"context"
	"time"

	"bloodreport/internal/model"
)

// AnalysisEvent is published once per saved analysis.
type AnalysisEvent struct {
	AnalysisID string    `msgpack:"analysis_id" json:"analysis_id"`
	FileID     string    `msgpack:"file_id" json:"file_id"`
	Filename   string    `msgpack:"filename" json:"filename"`
	Status     string    `msgpack:"status" json:"status"`
	Query      string    `msgpack:"query" json:"query"`
	AnalyzedAt time.Time `msgpack:"analyzed_at" json:"analyzed_at"`
}

// NewAnalysisEvent builds the event for a saved file/analysis pair.
func NewAnalysisEvent(f *model.File, a *model.Analysis) AnalysisEvent {
	return AnalysisEvent{
		AnalysisID: a.ID,
		FileID:     f.ID,
		Filename:   f.Filename,
		Status:     a.Status,
		Query:      a.Query,
		AnalyzedAt: a.AnalyzedAt,
	}
}

type Publisher interface {
	Publish(ctx context.Context, ev AnalysisEvent) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, AnalysisEvent) error { return nil }
func (NopPublisher) Close() error                                 { return nil }
