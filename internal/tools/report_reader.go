package tools

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"
	lctools "github.com/tmc/langchaingo/tools"
)

const ReportReaderName = "blood_report_reader"

// BloodReportReader extracts the text of a blood test PDF given its file path.
type BloodReportReader struct {
	load func(ctx context.Context, path string) ([]schema.Document, error)
}

var _ lctools.Tool = (*BloodReportReader)(nil)

func NewBloodReportReader() *BloodReportReader {
	return &BloodReportReader{load: loadPDF}
}

func (t *BloodReportReader) Name() string {
	return ReportReaderName
}

func (t *BloodReportReader) Description() string {
	return "Reads and returns the content of a blood test PDF file given its file path."
}

// Call returns the report text, one page after another. Read failures are returned as
// tool output so the agent can report them instead of aborting the crew.
func (t *BloodReportReader) Call(ctx context.Context, input string) (string, error) {
	pages, err := t.load(ctx, strings.TrimSpace(input))
	if err != nil {
		return fmt.Sprintf("Error reading PDF file: %v", err), nil
	}

	var sb strings.Builder
	for _, page := range pages {
		sb.WriteString(strings.ReplaceAll(page.PageContent, "\n\n", "\n"))
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func loadPDF(ctx context.Context, path string) ([]schema.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return documentloaders.NewPDF(f, st.Size()).Load(ctx)
}
