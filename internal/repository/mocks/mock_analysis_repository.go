package mocks

import (
	"context"

	"bloodreport/internal/model"
	"bloodreport/internal/repository"
	"github.com/stretchr/testify/mock"
)

type MockAnalysisRepository struct {
	mock.Mock
}

func (m *MockAnalysisRepository) Save(ctx context.Context, file *model.File, analysis *model.Analysis) error {
	args := m.Called(ctx, file, analysis)
	return args.Error(0)
}

func (m *MockAnalysisRepository) FindByID(ctx context.Context, id string) (*model.AnalysisRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AnalysisRecord), args.Error(1)
}

func (m *MockAnalysisRepository) List(ctx context.Context, pq repository.PageQuery) (*repository.PageResult[model.AnalysisRecord], error) {
	args := m.Called(ctx, pq)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.PageResult[model.AnalysisRecord]), args.Error(1)
}

func (m *MockAnalysisRepository) Recent(ctx context.Context, n int) ([]model.AnalysisRecord, error) {
	args := m.Called(ctx, n)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.AnalysisRecord), args.Error(1)
}

func (m *MockAnalysisRepository) All(ctx context.Context) ([]model.AnalysisRecord, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.AnalysisRecord), args.Error(1)
}
