package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"bloodreport/internal/crew"
	"bloodreport/internal/events"
	"bloodreport/internal/logging"
	"bloodreport/internal/model"
	"bloodreport/internal/repository"
	"bloodreport/internal/storage"
)

var (
	ErrIDRequired        = errors.New("id is required")
	ErrNotFound          = errors.New("analysis not found")
	ErrReaderNil         = errors.New("reader is nil")
	ErrAnalysisFailed    = errors.New("analysis failed")
	ErrArchiveDisabled   = errors.New("report archive is not configured")
	ErrReportNotArchived = errors.New("report was not archived")
)

// DefaultQuery is used when the caller sends no query.
const DefaultQuery = "Summarise my Blood Test Report"

const (
	tempPattern   = "blood_test_report-*.pdf"
	reportURLTTL  = 15 * time.Minute
	defaultLimit  = 10
	maxListLimit  = 100
	defaultCrewTO = 5 * time.Minute
)

// AnalyzeInput is one uploaded report plus the user's question.
type AnalyzeInput struct {
	Reader      io.Reader
	Filename    string
	ContentType string
	Query       string
}

// AnalysisResult is what the upload endpoint returns.
type AnalysisResult struct {
	AnalysisID    string `json:"analysis_id"`
	Status        string `json:"status"`
	Query         string `json:"query"`
	Analysis      string `json:"analysis"`
	FileProcessed string `json:"file_processed"`
}

// AnalysisListResult is the service-level DTO for paginated analyses.
type AnalysisListResult struct {
	Items []model.AnalysisRecord `json:"data"`
	Total int                    `json:"total"`
}

// ReportFile is an archived report opened for streaming. The caller closes Body.
type ReportFile struct {
	Body        io.ReadCloser
	Filename    string
	ContentType string
	Size        int64
}

// Runner executes the agent pipeline. *crew.Crew satisfies it.
type Runner interface {
	Kickoff(ctx context.Context, inputs map[string]string) (*crew.Output, error)
}

// Exporter regenerates the CSV mirror.
type Exporter interface {
	Export(ctx context.Context) error
	Path() string
}

// AnalysisService defines the use cases for blood report analysis.
type AnalysisService interface {
	// Analyze runs the crew over an uploaded report and records the outcome, success or not.
	Analyze(ctx context.Context, in AnalyzeInput) (*AnalysisResult, error)

	// List returns analyses newest first using limit/offset and a total count.
	List(ctx context.Context, limit, offset int) (*AnalysisListResult, error)

	// Get returns a single analysis by its ID.
	Get(ctx context.Context, id string) (*model.AnalysisRecord, error)

	// ReportURL returns a short-lived download URL for an archived report.
	ReportURL(ctx context.Context, id string) (string, error)

	// OpenReport streams an archived report for clients that cannot follow presigned URLs.
	OpenReport(ctx context.Context, id string) (*ReportFile, error)

	// ExportCSV regenerates the CSV mirror and returns its path.
	ExportCSV(ctx context.Context) (string, error)
}

type analysisService struct {
	repo      repository.AnalysisRepository
	runner    Runner
	exporter  Exporter
	store     storage.Storage
	publisher events.Publisher
	sem       *semaphore.Weighted
	dataDir   string
	timeout   time.Duration
	log       *logging.Logger
	now       func() time.Time
}

type Option func(*analysisService)

// WithArchive copies every uploaded report into object storage.
func WithArchive(s storage.Storage) Option {
	return func(svc *analysisService) { svc.store = s }
}

func WithPublisher(p events.Publisher) Option {
	return func(svc *analysisService) { svc.publisher = p }
}

// WithDataDir sets where temporary report files are written.
func WithDataDir(dir string) Option {
	return func(svc *analysisService) { svc.dataDir = dir }
}

// WithConcurrency caps the number of crews running at once. n <= 0 means unlimited.
func WithConcurrency(n int) Option {
	return func(svc *analysisService) {
		if n > 0 {
			svc.sem = semaphore.NewWeighted(int64(n))
		} else {
			svc.sem = nil
		}
	}
}

// WithTimeout bounds a single crew run.
func WithTimeout(d time.Duration) Option {
	return func(svc *analysisService) {
		if d > 0 {
			svc.timeout = d
		}
	}
}

func WithLogger(l *logging.Logger) Option {
	return func(svc *analysisService) { svc.log = l }
}

// NewAnalysisService constructs a new AnalysisService.
func NewAnalysisService(repo repository.AnalysisRepository, runner Runner, exporter Exporter, opts ...Option) AnalysisService {
	svc := &analysisService{
		repo:      repo,
		runner:    runner,
		exporter:  exporter,
		publisher: events.NopPublisher{},
		dataDir:   os.TempDir(),
		timeout:   defaultCrewTO,
		log:       logging.Default(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(svc)
	}
	return svc
}

func (s *analysisService) Analyze(ctx context.Context, in AnalyzeInput) (*AnalysisResult, error) {
	if in.Reader == nil {
		return nil, ErrReaderNil
	}
	query := strings.TrimSpace(in.Query)
	if query == "" {
		query = DefaultQuery
	}
	start := time.Now()

	file := &model.File{
		ID:         uuid.NewString(),
		Filename:   in.Filename,
		UploadedAt: s.now(),
	}
	analysis := &model.Analysis{
		ID:     uuid.NewString(),
		FileID: file.ID,
		Query:  query,
	}

	output, runErr := s.run(ctx, in, file, query)
	analysis.AnalyzedAt = s.now()
	if runErr != nil {
		analysis.Status = model.StatusError
		analysis.Output = runErr.Error()
	} else {
		analysis.Status = model.StatusSuccess
		analysis.Output = output
	}

	// The record is kept even when the caller has gone away.
	saveCtx := context.WithoutCancel(ctx)
	if err := s.repo.Save(saveCtx, file, analysis); err != nil {
		s.discardArchive(saveCtx, file)
		if runErr != nil {
			err = fmt.Errorf("%v; save error record: %w", runErr, err)
		} else {
			err = fmt.Errorf("save analysis: %w", err)
		}
		s.logAnalysis(analysis, file, start, err)
		return nil, fmt.Errorf("%w: %w", ErrAnalysisFailed, err)
	}
	s.afterSave(saveCtx, file, analysis)
	s.logAnalysis(analysis, file, start, runErr)

	if runErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrAnalysisFailed, runErr)
	}
	return &AnalysisResult{
		AnalysisID:    analysis.ID,
		Status:        model.StatusSuccess,
		Query:         query,
		Analysis:      output,
		FileProcessed: in.Filename,
	}, nil
}

// run stages the upload on disk, archives it and kicks off the crew. file.StoredPath and
// file.Size are filled in as soon as they are known so failures are recorded faithfully.
func (s *analysisService) run(ctx context.Context, in AnalyzeInput, file *model.File, query string) (string, error) {
	if s.sem != nil {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return "", fmt.Errorf("wait for analysis slot: %w", err)
		}
		defer s.sem.Release(1)
	}

	path, size, err := s.stage(in.Reader)
	if path != "" {
		defer os.Remove(path)
	}
	file.StoredPath = path
	file.Size = size
	if err != nil {
		return "", err
	}

	if s.store != nil {
		key, err := s.archive(ctx, path, size, in)
		if err != nil {
			return "", err
		}
		file.StoredPath = key
	}

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	out, err := s.runner.Kickoff(runCtx, map[string]string{
		"query":     query,
		"file_path": path,
	})
	if err != nil {
		return "", fmt.Errorf("run crew: %w", err)
	}
	return out.Raw, nil
}

// stage writes the upload to a file unique to this request.
func (s *analysisService) stage(r io.Reader) (string, int64, error) {
	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create data dir: %w", err)
	}
	f, err := os.CreateTemp(s.dataDir, tempPattern)
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return f.Name(), 0, fmt.Errorf("write temp file: %w", err)
	}
	return f.Name(), n, nil
}

func (s *analysisService) archive(ctx context.Context, path string, size int64, in AnalyzeInput) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open staged report: %w", err)
	}
	defer f.Close()

	contentType := in.ContentType
	if contentType == "" {
		contentType = "application/pdf"
	}
	info, err := s.store.Put(ctx, storage.NewReportKey(in.Filename), f, storage.PutObjectOptions{
		Size:        size,
		ContentType: contentType,
		Metadata:    map[string]string{"original-filename": in.Filename},
	})
	if err != nil {
		return "", fmt.Errorf("archive report: %w", err)
	}
	return info.Key, nil
}

// discardArchive removes an archived object whose rows could not be saved.
func (s *analysisService) discardArchive(ctx context.Context, file *model.File) {
	if s.store == nil || !storage.IsReportKey(file.StoredPath) {
		return
	}
	if err := s.store.Delete(ctx, file.StoredPath); err != nil {
		s.log.Log(map[string]any{
			"component": "analysis",
			"event":     "archive_rollback_failed",
			"status":    "error",
			"key":       file.StoredPath,
			"error":     err.Error(),
		})
	}
}

// afterSave refreshes the CSV and announces the analysis. Neither failure reaches the caller.
func (s *analysisService) afterSave(ctx context.Context, file *model.File, analysis *model.Analysis) {
	if s.exporter != nil {
		if err := s.exporter.Export(ctx); err != nil {
			s.log.Log(map[string]any{
				"component": "analysis",
				"event":     "csv_export_failed",
				"level":     "warn",
				"path":      s.exporter.Path(),
				"error":     err.Error(),
			})
		}
	}
	if err := s.publisher.Publish(ctx, events.NewAnalysisEvent(file, analysis)); err != nil {
		s.log.Log(map[string]any{
			"component":   "analysis",
			"event":       "publish_failed",
			"level":       "warn",
			"analysis_id": analysis.ID,
			"error":       err.Error(),
		})
	}
}

func (s *analysisService) logAnalysis(a *model.Analysis, f *model.File, start time.Time, err error) {
	entry := map[string]any{
		"component":   "analysis",
		"event":       "analysis_finished",
		"status":      a.Status,
		"analysis_id": a.ID,
		"file_id":     f.ID,
		"filename":    f.Filename,
		"size":        f.Size,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if err != nil {
		entry["status"] = model.StatusError
		entry["error"] = err.Error()
	}
	s.log.Log(entry)
}

// List returns paginated analyses without exposing repository types.
func (s *analysisService) List(ctx context.Context, limit, offset int) (*AnalysisListResult, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	res, err := s.repo.List(ctx, repository.PageQuery{Limit: limit, Offset: offset})
	if err != nil {
		return nil, err
	}
	return &AnalysisListResult{Items: res.Items, Total: res.Total}, nil
}

// Get returns an analysis by ID.
func (s *analysisService) Get(ctx context.Context, id string) (*model.AnalysisRecord, error) {
	if id == "" {
		return nil, ErrIDRequired
	}
	rec, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

// archivedRecord loads an analysis whose report lives in the archive.
func (s *analysisService) archivedRecord(ctx context.Context, id string) (*model.AnalysisRecord, error) {
	if s.store == nil {
		return nil, ErrArchiveDisabled
	}
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !storage.IsReportKey(rec.StoredPath) {
		return nil, ErrReportNotArchived
	}
	return rec, nil
}

func (s *analysisService) ReportURL(ctx context.Context, id string) (string, error) {
	rec, err := s.archivedRecord(ctx, id)
	if err != nil {
		return "", err
	}
	return s.store.PresignGet(ctx, rec.StoredPath, reportURLTTL)
}

func (s *analysisService) OpenReport(ctx context.Context, id string) (*ReportFile, error) {
	rec, err := s.archivedRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	body, info, err := s.store.Get(ctx, rec.StoredPath)
	if err != nil {
		return nil, fmt.Errorf("open report: %w", err)
	}
	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/pdf"
	}
	return &ReportFile{
		Body:        body,
		Filename:    rec.Filename,
		ContentType: contentType,
		Size:        info.Size,
	}, nil
}

func (s *analysisService) ExportCSV(ctx context.Context) (string, error) {
	if s.exporter == nil {
		return "", errors.New("csv export is not configured")
	}
	if err := s.exporter.Export(ctx); err != nil {
		return "", err
	}
	return s.exporter.Path(), nil
}
