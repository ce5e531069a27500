package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"bloodreport/internal/crew"
	"bloodreport/internal/events"
	"bloodreport/internal/logging"
	"bloodreport/internal/model"
	"bloodreport/internal/repository"
	repoMocks "bloodreport/internal/repository/mocks"
	"bloodreport/internal/storage"
	storeMocks "bloodreport/internal/storage/mocks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const archivedKey = "reports/0b9f3c1e-5d2a-4e61-9a53-7c1f2b8d4e10.pdf"

type fakeRunner struct {
	mu      sync.Mutex
	out     string
	err     error
	inputs  []map[string]string
	content []byte
	started chan struct{}
	release chan struct{}
}

func (f *fakeRunner) Kickoff(ctx context.Context, in map[string]string) (*crew.Output, error) {
	b, _ := os.ReadFile(in["file_path"])
	f.mu.Lock()
	f.inputs = append(f.inputs, in)
	f.content = b
	f.mu.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &crew.Output{Raw: f.out}, nil
}

type fakeExporter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeExporter) Export(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeExporter) Path() string { return "analysis_data.csv" }

type fakePublisher struct {
	mu     sync.Mutex
	events []events.AnalysisEvent
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, ev events.AnalysisEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return f.err
}
func (f *fakePublisher) Close() error { return nil }

type fixture struct {
	repo  *repoMocks.MockAnalysisRepository
	run   *fakeRunner
	exp   *fakeExporter
	pub   *fakePublisher
	dir   string
	logs  *syncBuffer
	extra []Option
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newFixture(t *testing.T) *fixture {
	return &fixture{
		repo: new(repoMocks.MockAnalysisRepository),
		run:  &fakeRunner{out: "All values within range."},
		exp:  &fakeExporter{},
		pub:  &fakePublisher{},
		dir:  t.TempDir(),
		logs: &syncBuffer{},
	}
}

func (f *fixture) service() AnalysisService {
	opts := append([]Option{
		WithDataDir(f.dir),
		WithPublisher(f.pub),
		WithLogger(logging.New(f.logs, nil)),
		WithTimeout(time.Second),
	}, f.extra...)
	return NewAnalysisService(f.repo, f.run, f.exp, opts...)
}

func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temporary report not removed")
}

func TestAnalysisService_Analyze(t *testing.T) {
	ctx := context.Background()
	pdf := "%PDF-1.4 hemoglobin"

	t.Run("happy path", func(t *testing.T) {
		f := newFixture(t)
		var saved *model.Analysis
		f.repo.On("Save", mock.Anything, mock.MatchedBy(func(file *model.File) bool {
			return file.Filename == "report.pdf" &&
				file.Size == int64(len(pdf)) &&
				strings.HasPrefix(filepath.Base(file.StoredPath), "blood_test_report-")
		}), mock.Anything).Run(func(args mock.Arguments) {
			saved = args.Get(2).(*model.Analysis)
		}).Return(nil)

		res, err := f.service().Analyze(ctx, AnalyzeInput{
			Reader:   strings.NewReader(pdf),
			Filename: "report.pdf",
			Query:    "  Is my cholesterol high?  ",
		})
		require.NoError(t, err)

		assert.Equal(t, model.StatusSuccess, res.Status)
		assert.Equal(t, "Is my cholesterol high?", res.Query)
		assert.Equal(t, "All values within range.", res.Analysis)
		assert.Equal(t, "report.pdf", res.FileProcessed)

		require.NotNil(t, saved)
		assert.Equal(t, res.AnalysisID, saved.ID)
		assert.Equal(t, model.StatusSuccess, saved.Status)
		assert.Equal(t, "All values within range.", saved.Output)

		require.Len(t, f.run.inputs, 1)
		assert.Equal(t, "Is my cholesterol high?", f.run.inputs[0]["query"])
		assert.Equal(t, pdf, string(f.run.content))

		assert.Equal(t, 1, f.exp.calls)
		require.Len(t, f.pub.events, 1)
		assert.Equal(t, res.AnalysisID, f.pub.events[0].AnalysisID)
		assertDirEmpty(t, f.dir)
		f.repo.AssertExpectations(t)
	})

	t.Run("empty query gets the default", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("Save", mock.Anything, mock.Anything, mock.Anything).Return(nil)

		res, err := f.service().Analyze(ctx, AnalyzeInput{Reader: strings.NewReader(pdf), Filename: "a.pdf", Query: "   "})
		require.NoError(t, err)
		assert.Equal(t, DefaultQuery, res.Query)
		assert.Equal(t, DefaultQuery, f.run.inputs[0]["query"])
	})

	t.Run("nil reader", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.service().Analyze(ctx, AnalyzeInput{Filename: "a.pdf"})
		assert.ErrorIs(t, err, ErrReaderNil)
		assert.Nil(t, res)
		f.repo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("crew failure is recorded as an error row", func(t *testing.T) {
		f := newFixture(t)
		f.run.err = errors.New("model quota exceeded")
		f.repo.On("Save", mock.Anything, mock.Anything, mock.MatchedBy(func(a *model.Analysis) bool {
			return a.Status == model.StatusError && strings.Contains(a.Output, "model quota exceeded")
		})).Return(nil)

		res, err := f.service().Analyze(ctx, AnalyzeInput{Reader: strings.NewReader(pdf), Filename: "a.pdf"})
		assert.Nil(t, res)
		assert.ErrorIs(t, err, ErrAnalysisFailed)
		assert.ErrorContains(t, err, "model quota exceeded")
		assert.Equal(t, 1, f.exp.calls)
		assertDirEmpty(t, f.dir)
		assert.Contains(t, f.logs.String(), `"level":"error"`)
		f.repo.AssertExpectations(t)
	})

	t.Run("save failure", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("Save", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("disk full"))

		_, err := f.service().Analyze(ctx, AnalyzeInput{Reader: strings.NewReader(pdf), Filename: "a.pdf"})
		assert.ErrorIs(t, err, ErrAnalysisFailed)
		assert.ErrorContains(t, err, "save analysis: disk full")
		assert.Zero(t, f.exp.calls)
		assert.Empty(t, f.pub.events)
	})

	t.Run("export and publish failures do not fail the request", func(t *testing.T) {
		f := newFixture(t)
		f.exp.err = errors.New("permission denied")
		f.pub.err = errors.New("broker down")
		f.repo.On("Save", mock.Anything, mock.Anything, mock.Anything).Return(nil)

		res, err := f.service().Analyze(ctx, AnalyzeInput{Reader: strings.NewReader(pdf), Filename: "a.pdf"})
		require.NoError(t, err)
		assert.Equal(t, model.StatusSuccess, res.Status)
		assert.Contains(t, f.logs.String(), "csv_export_failed")
		assert.Contains(t, f.logs.String(), "publish_failed")
	})

	t.Run("archives the report", func(t *testing.T) {
		f := newFixture(t)
		store := new(storeMocks.MockStorage)
		f.extra = []Option{WithArchive(store)}

		store.On("Put", mock.Anything, mock.MatchedBy(func(key string) bool {
			return strings.HasPrefix(key, "reports/") && strings.HasSuffix(key, ".pdf")
		}), storage.PutObjectOptions{
			Size:        int64(len(pdf)),
			ContentType: "application/pdf",
			Metadata:    map[string]string{"original-filename": "Report.PDF"},
		}).Return(storage.ObjectInfo{Key: archivedKey}, nil)
		f.repo.On("Save", mock.Anything, mock.MatchedBy(func(file *model.File) bool {
			return file.StoredPath == archivedKey
		}), mock.Anything).Return(nil)

		_, err := f.service().Analyze(ctx, AnalyzeInput{Reader: strings.NewReader(pdf), Filename: "Report.PDF"})
		require.NoError(t, err)
		assert.Equal(t, pdf, string(store.Archived))
		store.AssertExpectations(t)
		f.repo.AssertExpectations(t)
	})

	t.Run("archived object is removed when the rows cannot be saved", func(t *testing.T) {
		f := newFixture(t)
		store := new(storeMocks.MockStorage)
		f.extra = []Option{WithArchive(store)}

		store.On("Put", mock.Anything, mock.Anything, mock.Anything).Return(storage.ObjectInfo{Key: archivedKey}, nil)
		store.On("Delete", mock.Anything, archivedKey).Return(nil)
		f.repo.On("Save", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("locked"))

		_, err := f.service().Analyze(ctx, AnalyzeInput{Reader: strings.NewReader(pdf), Filename: "a.pdf"})
		assert.ErrorIs(t, err, ErrAnalysisFailed)
		store.AssertExpectations(t)
	})

	t.Run("concurrent uploads get distinct files", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("Save", mock.Anything, mock.Anything, mock.Anything).Return(nil)
		svc := f.service()

		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := svc.Analyze(ctx, AnalyzeInput{Reader: strings.NewReader(pdf), Filename: "a.pdf"})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		paths := map[string]bool{}
		for _, in := range f.run.inputs {
			paths[in["file_path"]] = true
		}
		assert.Len(t, paths, 4)
		assertDirEmpty(t, f.dir)
	})

	t.Run("waiting for a slot honours the context", func(t *testing.T) {
		f := newFixture(t)
		f.run.started = make(chan struct{}, 1)
		f.run.release = make(chan struct{})
		f.extra = []Option{WithConcurrency(1)}
		f.repo.On("Save", mock.Anything, mock.Anything, mock.Anything).Return(nil)
		svc := f.service()

		done := make(chan error, 1)
		go func() {
			_, err := svc.Analyze(ctx, AnalyzeInput{Reader: strings.NewReader(pdf), Filename: "first.pdf"})
			done <- err
		}()
		<-f.run.started

		waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		_, err := svc.Analyze(waitCtx, AnalyzeInput{Reader: strings.NewReader(pdf), Filename: "second.pdf"})
		assert.ErrorIs(t, err, ErrAnalysisFailed)
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		close(f.run.release)
		assert.NoError(t, <-done)
		f.repo.AssertNumberOfCalls(t, "Save", 2)
	})
}

func TestAnalysisService_List(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		limit     int
		offset    int
		wantQuery repository.PageQuery
		repoErr   error
		wantErr   bool
		wantTotal int
	}{
		{name: "defaults", limit: 0, offset: -5, wantQuery: repository.PageQuery{Limit: 10, Offset: 0}, wantTotal: 1},
		{name: "capped", limit: 1000, offset: 20, wantQuery: repository.PageQuery{Limit: 100, Offset: 20}, wantTotal: 1},
		{name: "repo error", limit: 5, wantQuery: repository.PageQuery{Limit: 5}, repoErr: errors.New("db down"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(repoMocks.MockAnalysisRepository)
			if tt.repoErr != nil {
				repo.On("List", ctx, tt.wantQuery).Return(nil, tt.repoErr)
			} else {
				repo.On("List", ctx, tt.wantQuery).Return(&repository.PageResult[model.AnalysisRecord]{
					Items: []model.AnalysisRecord{{ID: "an-1"}},
					Total: 1,
				}, nil)
			}

			res, err := NewAnalysisService(repo, &fakeRunner{}, nil).List(ctx, tt.limit, tt.offset)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantTotal, res.Total)
			repo.AssertExpectations(t)
		})
	}
}

func TestAnalysisService_Get(t *testing.T) {
	ctx := context.Background()
	repo := new(repoMocks.MockAnalysisRepository)
	svc := NewAnalysisService(repo, &fakeRunner{}, nil)

	repo.On("FindByID", ctx, "an-1").Return(&model.AnalysisRecord{ID: "an-1"}, nil)
	repo.On("FindByID", ctx, "missing").Return(nil, sql.ErrNoRows)
	repo.On("FindByID", ctx, "broken").Return(nil, errors.New("db down"))

	rec, err := svc.Get(ctx, "an-1")
	require.NoError(t, err)
	assert.Equal(t, "an-1", rec.ID)

	_, err = svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Get(ctx, "broken")
	assert.EqualError(t, err, "db down")

	_, err = svc.Get(ctx, "")
	assert.ErrorIs(t, err, ErrIDRequired)
}

func TestAnalysisService_ReportURL(t *testing.T) {
	ctx := context.Background()

	t.Run("archive disabled", func(t *testing.T) {
		svc := NewAnalysisService(new(repoMocks.MockAnalysisRepository), &fakeRunner{}, nil)
		_, err := svc.ReportURL(ctx, "an-1")
		assert.ErrorIs(t, err, ErrArchiveDisabled)
	})

	t.Run("presigned", func(t *testing.T) {
		repo := new(repoMocks.MockAnalysisRepository)
		store := new(storeMocks.MockStorage)
		repo.On("FindByID", ctx, "an-1").Return(&model.AnalysisRecord{ID: "an-1", StoredPath: archivedKey}, nil)
		store.On("PresignGet", ctx, archivedKey, 15*time.Minute).Return("http://minio/reports/abc.pdf?sig", nil)

		url, err := NewAnalysisService(repo, &fakeRunner{}, nil, WithArchive(store)).ReportURL(ctx, "an-1")
		require.NoError(t, err)
		assert.Equal(t, "http://minio/reports/abc.pdf?sig", url)
	})

	t.Run("not archived", func(t *testing.T) {
		repo := new(repoMocks.MockAnalysisRepository)
		repo.On("FindByID", ctx, "an-1").Return(&model.AnalysisRecord{ID: "an-1", StoredPath: "data/blood_test_report-1.pdf"}, nil)

		_, err := NewAnalysisService(repo, &fakeRunner{}, nil, WithArchive(new(storeMocks.MockStorage))).ReportURL(ctx, "an-1")
		assert.ErrorIs(t, err, ErrReportNotArchived)
	})
}

func TestAnalysisService_OpenReport(t *testing.T) {
	ctx := context.Background()

	t.Run("streams the archived object", func(t *testing.T) {
		repo := new(repoMocks.MockAnalysisRepository)
		store := new(storeMocks.MockStorage)
		repo.On("FindByID", ctx, "an-1").Return(&model.AnalysisRecord{ID: "an-1", Filename: "march.pdf", StoredPath: archivedKey}, nil)
		store.On("Get", ctx, archivedKey).Return(io.NopCloser(strings.NewReader("%PDF-1.4")), storage.ObjectInfo{
			Key:         archivedKey,
			Size:        8,
			ContentType: "application/pdf",
		}, nil)

		rf, err := NewAnalysisService(repo, &fakeRunner{}, nil, WithArchive(store)).OpenReport(ctx, "an-1")
		require.NoError(t, err)
		defer rf.Body.Close()

		b, err := io.ReadAll(rf.Body)
		require.NoError(t, err)
		assert.Equal(t, "%PDF-1.4", string(b))
		assert.Equal(t, "march.pdf", rf.Filename)
		assert.Equal(t, "application/pdf", rf.ContentType)
		assert.Equal(t, int64(8), rf.Size)
	})

	t.Run("content type falls back to pdf", func(t *testing.T) {
		repo := new(repoMocks.MockAnalysisRepository)
		store := new(storeMocks.MockStorage)
		repo.On("FindByID", ctx, "an-1").Return(&model.AnalysisRecord{ID: "an-1", Filename: "a.pdf", StoredPath: archivedKey}, nil)
		store.On("Get", ctx, archivedKey).Return(io.NopCloser(strings.NewReader("x")), storage.ObjectInfo{Size: 1}, nil)

		rf, err := NewAnalysisService(repo, &fakeRunner{}, nil, WithArchive(store)).OpenReport(ctx, "an-1")
		require.NoError(t, err)
		assert.Equal(t, "application/pdf", rf.ContentType)
	})

	t.Run("archive disabled", func(t *testing.T) {
		_, err := NewAnalysisService(new(repoMocks.MockAnalysisRepository), &fakeRunner{}, nil).OpenReport(ctx, "an-1")
		assert.ErrorIs(t, err, ErrArchiveDisabled)
	})

	t.Run("temp path is not fetched", func(t *testing.T) {
		repo := new(repoMocks.MockAnalysisRepository)
		store := new(storeMocks.MockStorage)
		repo.On("FindByID", ctx, "an-1").Return(&model.AnalysisRecord{ID: "an-1", StoredPath: "reports/blood_test_report-1.pdf"}, nil)

		_, err := NewAnalysisService(repo, &fakeRunner{}, nil, WithArchive(store)).OpenReport(ctx, "an-1")
		assert.ErrorIs(t, err, ErrReportNotArchived)
		store.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
	})

	t.Run("store failure", func(t *testing.T) {
		repo := new(repoMocks.MockAnalysisRepository)
		store := new(storeMocks.MockStorage)
		repo.On("FindByID", ctx, "an-1").Return(&model.AnalysisRecord{ID: "an-1", StoredPath: archivedKey}, nil)
		store.On("Get", ctx, archivedKey).Return(nil, storage.ObjectInfo{}, errors.New("no such key"))

		_, err := NewAnalysisService(repo, &fakeRunner{}, nil, WithArchive(store)).OpenReport(ctx, "an-1")
		assert.ErrorContains(t, err, "no such key")
	})
}

func TestAnalysisService_ExportCSV(t *testing.T) {
	ctx := context.Background()
	exp := &fakeExporter{}
	svc := NewAnalysisService(new(repoMocks.MockAnalysisRepository), &fakeRunner{}, exp)

	path, err := svc.ExportCSV(ctx)
	require.NoError(t, err)
	assert.Equal(t, "analysis_data.csv", path)

	exp.err = errors.New("read-only fs")
	_, err = svc.ExportCSV(ctx)
	assert.EqualError(t, err, "read-only fs")
}
