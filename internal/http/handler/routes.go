package handler

import (
	"database/sql"

	"github.com/gofiber/fiber/v2"

	"bloodreport/internal/service"
)

// RegisterRoutes attaches HTTP routes to the provided Fiber app.
// Handlers translate HTTP to service calls and hold no business logic.
func RegisterRoutes(app *fiber.App, db *sql.DB, svc service.AnalysisService) {
	app.Get("/", Root())
	app.Get("/health", HealthCheck(db))
	app.Get("/healthz", LivenessProbe())

	app.Post("/analyze", AnalyzeReport(svc))
	app.Get("/analyses", ListAnalyses(svc))
	app.Get("/analyses/:id", GetAnalysis(svc))
	app.Get("/analyses/:id/report", GetReport(svc))
	app.Get("/export.csv", ExportCSV(svc))
}
