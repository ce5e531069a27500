package mocks

import (
	"context"

	"bloodreport/internal/model"
	"bloodreport/internal/service"

	"github.com/stretchr/testify/mock"
)

type MockAnalysisService struct {
	mock.Mock
}

var _ service.AnalysisService = (*MockAnalysisService)(nil)

func (m *MockAnalysisService) Analyze(ctx context.Context, in service.AnalyzeInput) (*service.AnalysisResult, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.AnalysisResult), args.Error(1)
}

func (m *MockAnalysisService) List(ctx context.Context, limit, offset int) (*service.AnalysisListResult, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.AnalysisListResult), args.Error(1)
}

func (m *MockAnalysisService) Get(ctx context.Context, id string) (*model.AnalysisRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AnalysisRecord), args.Error(1)
}

func (m *MockAnalysisService) ReportURL(ctx context.Context, id string) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

func (m *MockAnalysisService) OpenReport(ctx context.Context, id string) (*service.ReportFile, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ReportFile), args.Error(1)
}

func (m *MockAnalysisService) ExportCSV(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}
