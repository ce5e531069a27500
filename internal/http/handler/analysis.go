package handler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"bloodreport/internal/service"
)

// AnalyzeReport godoc
// @Summary      Analyse a blood test report
// @Description  Runs the verifier, doctor, nutritionist and exercise agents over the uploaded PDF.
// @Tags         analyses
// @Accept       multipart/form-data
// @Produce      json
// @Param        file   formData  file    true   "Blood test report (PDF)"
// @Param        query  formData  string  false  "Question about the report"
// @Success      200  {object}  service.AnalysisResult
// @Failure      400  {object}  errorPayload
// @Failure      500  {object}  errorPayload
// @Router       /analyze [post]
func AnalyzeReport(svc service.AnalysisService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		fh, err := c.FormFile("file")
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "FILE_REQUIRED", "file is required")
		}

		f, err := fh.Open()
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "FILE_OPEN_ERROR", "cannot open uploaded file")
		}
		defer f.Close()

		res, err := svc.Analyze(c.UserContext(), service.AnalyzeInput{
			Reader:      f,
			Filename:    filepath.Base(fh.Filename),
			ContentType: fh.Header.Get("Content-Type"),
			Query:       c.FormValue("query"),
		})
		if err != nil {
			if errors.Is(err, service.ErrAnalysisFailed) {
				return writeError(c, fiber.StatusInternalServerError, "ANALYSIS_FAILED", "error processing blood report")
			}
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return c.Status(fiber.StatusOK).JSON(res)
	}
}

// ListAnalyses godoc
// @Summary      List analyses
// @Description  Newest first.
// @Tags         analyses
// @Produce      json
// @Param        limit   query  int  false  "Page size"  default(10)
// @Param        offset  query  int  false  "Offset"     default(0)
// @Success      200  {object}  service.AnalysisListResult
// @Failure      400  {object}  errorPayload
// @Router       /analyses [get]
func ListAnalyses(svc service.AnalysisService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit, err := strconv.Atoi(c.Query("limit", "10"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_LIMIT", "invalid limit")
		}
		offset, err := strconv.Atoi(c.Query("offset", "0"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_OFFSET", "invalid offset")
		}

		res, err := svc.List(c.UserContext(), limit, offset)
		if err != nil {
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return c.JSON(res)
	}
}

// GetAnalysis godoc
// @Summary      Get one analysis
// @Tags         analyses
// @Produce      json
// @Param        id   path  string  true  "Analysis ID (UUID)"
// @Success      200  {object}  model.AnalysisRecord
// @Failure      400  {object}  errorPayload
// @Failure      404  {object}  errorPayload
// @Router       /analyses/{id} [get]
func GetAnalysis(svc service.AnalysisService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		rec, err := svc.Get(c.UserContext(), id)
		if err != nil {
			if errors.Is(err, service.ErrNotFound) {
				return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "analysis not found")
			}
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return c.JSON(rec)
	}
}

// GetReport godoc
// @Summary      Download the archived report
// @Description  Redirects to a short-lived presigned URL, or streams the PDF through the API when inline=1.
// @Tags         analyses
// @Produce      application/pdf
// @Param        id      path   string  true   "Analysis ID (UUID)"
// @Param        inline  query  bool    false  "Stream through the API instead of redirecting"
// @Success      200  {file}  file
// @Success      307
// @Failure      400  {object}  errorPayload
// @Failure      404  {object}  errorPayload
// @Router       /analyses/{id}/report [get]
func GetReport(svc service.AnalysisService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}

		if c.QueryBool("inline") {
			rf, err := svc.OpenReport(c.UserContext(), id)
			if err != nil {
				return reportError(c, err)
			}
			c.Set(fiber.HeaderContentType, rf.ContentType)
			c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("inline; filename=%q", rf.Filename))
			// fasthttp closes the body once it has been written.
			return c.SendStream(rf.Body, int(rf.Size))
		}

		url, err := svc.ReportURL(c.UserContext(), id)
		if err != nil {
			return reportError(c, err)
		}
		return c.Redirect(url, fiber.StatusTemporaryRedirect)
	}
}

func reportError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "analysis not found")
	case errors.Is(err, service.ErrArchiveDisabled), errors.Is(err, service.ErrReportNotArchived):
		return writeError(c, fiber.StatusNotFound, "REPORT_NOT_ARCHIVED", "report is not archived")
	default:
		return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}

// ExportCSV godoc
// @Summary      Download all analyses as CSV
// @Tags         analyses
// @Produce      text/csv
// @Success      200  {file}  file
// @Failure      500  {object}  errorPayload
// @Router       /export.csv [get]
func ExportCSV(svc service.AnalysisService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		path, err := svc.ExportCSV(c.UserContext())
		if err != nil {
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}

		// Export replaces the file by rename, so it is reopened on every request
		// instead of going through SendFile's handle cache.
		f, err := os.Open(path)
		if err != nil {
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		st, err := f.Stat()
		if err != nil {
			f.Close()
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}

		c.Attachment(filepath.Base(path))
		c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
		return c.SendStream(f, int(st.Size()))
	}
}
