// Package viewer is the interactive terminal browser for the analysis log.
package viewer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"bloodreport/internal/export"
	"bloodreport/internal/model"
)

// WrapWidth is the column width for the free-text columns.
const WrapWidth = 20

const menu = `
Options:
1. Show all entries
2. Show last entry
3. Show last N entries
4. Exit
`

// Source yields the newest n records, or all of them when n <= 0.
type Source interface {
	Recent(ctx context.Context, n int) ([]model.AnalysisRecord, error)
}

type Viewer struct {
	src  Source
	name string
	in   *bufio.Scanner
	out  io.Writer
	loc  *time.Location
}

// New creates a viewer over src. name labels the banner, usually the database file.
func New(src Source, name string, in io.Reader, out io.Writer, loc *time.Location) *Viewer {
	if loc == nil {
		loc = time.UTC
	}
	return &Viewer{src: src, name: name, in: bufio.NewScanner(in), out: out, loc: loc}
}

// Run shows the menu until the user exits or input ends.
func (v *Viewer) Run(ctx context.Context) error {
	fmt.Fprintf(v.out, "Database Viewer for %s\n", v.name)
	for {
		fmt.Fprint(v.out, menu)
		choice, ok := v.prompt("Enter your choice (1-4): ")
		if !ok {
			return v.in.Err()
		}

		var err error
		switch choice {
		case "1":
			err = v.Show(ctx, 0)
		case "2":
			err = v.Show(ctx, 1)
		case "3":
			answer, ok := v.prompt("Enter N: ")
			if !ok {
				return v.in.Err()
			}
			n, convErr := strconv.Atoi(answer)
			if convErr != nil || n <= 0 {
				fmt.Fprintln(v.out, "Invalid number.")
				continue
			}
			err = v.Show(ctx, n)
		case "4":
			fmt.Fprintln(v.out, "Exiting...")
			return nil
		default:
			fmt.Fprintln(v.out, "Invalid choice.")
		}
		if err != nil {
			return err
		}
	}
}

func (v *Viewer) prompt(label string) (string, bool) {
	fmt.Fprint(v.out, label)
	if !v.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(v.in.Text()), true
}

// Show prints the newest n records, or every record when n <= 0.
func (v *Viewer) Show(ctx context.Context, n int) error {
	recs, err := v.src.Recent(ctx, n)
	if err != nil {
		return fmt.Errorf("fetch analyses: %w", err)
	}
	Render(v.out, recs, v.loc)
	return nil
}

// Render draws records as a grid, wrapping Filename, Query and Output.
func Render(w io.Writer, recs []model.AnalysisRecord, loc *time.Location) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(export.Header)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetRowLine(true)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	for _, r := range recs {
		row := export.Row(r, loc)
		for _, i := range []int{2, 3, 4} {
			row[i] = wrap(row[i], WrapWidth)
		}
		table.Append(row)
	}
	table.Render()
}

// wrap folds each line of s at word boundaries. Words longer than width are split.
func wrap(s string, width int) string {
	var out []string
	for _, para := range strings.Split(s, "\n") {
		if strings.TrimSpace(para) == "" {
			out = append(out, "")
			continue
		}
		lines, _ := tablewriter.WrapString(para, width)
		for _, l := range lines {
			out = append(out, chunk(l, width)...)
		}
	}
	return strings.Join(out, "\n")
}

func chunk(s string, width int) []string {
	r := []rune(s)
	if len(r) <= width {
		return []string{s}
	}
	var parts []string
	for len(r) > width {
		parts = append(parts, string(r[:width]))
		r = r[width:]
	}
	return append(parts, string(r))
}
