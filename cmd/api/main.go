package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/swagger"
	"github.com/jmoiron/sqlx"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bloodreport/docs"
	"bloodreport/internal/config"
	"bloodreport/internal/crew"
	"bloodreport/internal/database"
	"bloodreport/internal/database/migration"
	"bloodreport/internal/events"
	"bloodreport/internal/export"
	handlers "bloodreport/internal/http/handler"
	"bloodreport/internal/http/middleware"
	"bloodreport/internal/llm"
	"bloodreport/internal/logging"
	bootel "bloodreport/internal/otel"
	"bloodreport/internal/repository/sqlstore"
	"bloodreport/internal/service"
	"bloodreport/internal/storage"
	"bloodreport/internal/tools"
)

// @title Blood Test Report Analyser API
// @version 1.0
// @BasePath /
func main() {
	cfg := config.Load()
	log := logging.New(os.Stdout, cfg.Location())
	logging.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Log(map[string]any{"component": "api", "event": "fatal", "status": "error", "error": err.Error()})
		os.Exit(1)
	}
}

func run(cfg *config.AppConfig, log *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := bootel.Init(ctx, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	if err := migration.EnsureMigrated(ctx, db, cfg.Database.Driver, log, dbTarget(cfg.Database)); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	repo := sqlstore.NewAnalysisStore(sqlx.NewDb(db, database.BindDriver(cfg.Database.Driver)))

	runner, err := buildCrew(ctx, cfg, log)
	if err != nil {
		return err
	}

	exporter := export.NewCSVExporter(repo, cfg.Export.CSVPath, cfg.Location())

	opts := []service.Option{
		service.WithDataDir(cfg.DataDir),
		service.WithConcurrency(cfg.AnalysisConcurrency),
		service.WithTimeout(cfg.LLM.Timeout()),
		service.WithLogger(log),
	}
	if cfg.MinIO.Enabled() {
		archive, err := storage.NewMinIO(cfg.MinIO)
		if err != nil {
			return fmt.Errorf("init report archive: %w", err)
		}
		opts = append(opts, service.WithArchive(archive))
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.Kafka.Enabled() {
		kp, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return fmt.Errorf("init event publisher: %w", err)
		}
		publisher = kp
	}
	defer publisher.Close()
	opts = append(opts, service.WithPublisher(publisher))

	svc := service.NewAnalysisService(repo, runner, exporter, opts...)

	app, err := newApp(cfg, db, svc)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		log.Log(map[string]any{"component": "api", "event": "listening", "addr": ":" + cfg.Port})
		errCh <- app.Listen(":" + cfg.Port)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("start server: %w", err)
	case <-ctx.Done():
	}

	log.Log(map[string]any{"component": "api", "event": "shutting_down"})
	// In-flight analyses can run for minutes; give them the crew budget to finish.
	// Timeout never returns zero, which fiber would treat as no limit.
	return app.ShutdownWithTimeout(cfg.LLM.Timeout())
}

func buildCrew(ctx context.Context, cfg *config.AppConfig, log *logging.Logger) (*crew.Crew, error) {
	model, err := llm.New(ctx, cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("init llm: %w", err)
	}

	registry := tools.NewRegistry(tools.NewBloodReportReader())
	if cfg.Search.SerpAPIKey != "" {
		search, err := tools.NewWebSearch()
		if err != nil {
			return nil, fmt.Errorf("init web search: %w", err)
		}
		registry = tools.NewRegistry(tools.NewBloodReportReader(), search)
	}

	def, err := crew.LoadDefinition(cfg.Crew.DefinitionPath)
	if err != nil {
		return nil, fmt.Errorf("load crew definition: %w", err)
	}

	c, err := crew.New(model, def, registry,
		crew.WithTemperature(cfg.LLM.Temperature),
		crew.WithLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("build crew: %w", err)
	}
	log.Log(map[string]any{
		"component": "crew",
		"event":     "crew_ready",
		"provider":  cfg.LLM.Provider,
		"model":     cfg.LLM.Model,
		"tasks":     c.Tasks(),
		"tools":     registry.Names(),
	})
	return c, nil
}

func newApp(cfg *config.AppConfig, db *sql.DB, svc service.AnalysisService) (*fiber.App, error) {
	app := fiber.New(fiber.Config{
		ErrorHandler: handlers.ErrorHandler(),
		BodyLimit:    cfg.MaxUploadMB * 1024 * 1024,
		ReadTimeout:  30 * time.Second,
	})

	prom, err := middleware.NewPrometheusMiddleware(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	app.Use(otelfiber.Middleware())
	app.Use(middleware.RequestID())
	app.Use(middleware.Logger())
	app.Use(prom.Handler())

	app.Get(middleware.MetricsPath, adaptor.HTTPHandler(promhttp.Handler()))

	handlers.RegisterRoutes(app, db, svc)

	// Set once; SwaggerInfo is shared by every request. An empty scheme list lets the UI
	// follow whatever scheme the page was served on.
	docs.SwaggerInfo.Host = cfg.AppHost
	app.Get("/swagger/*", swagger.HandlerDefault)

	return app, nil
}

func dbTarget(c config.DatabaseConfig) string {
	if c.Driver == config.DriverPostgres {
		return c.Host + ":" + c.Port + "/" + c.Name
	}
	return c.Path
}
