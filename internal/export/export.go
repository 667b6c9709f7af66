// Package export renders the task list for download.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"gopkg.in/yaml.v3"

	"stagetasks/internal/models"
)

// Formats lists the supported export formats.
var Formats = []string{"json", "csv", "yaml", "pdf"}

// ContentType returns the MIME type for format.
func ContentType(format string) string {
	switch strings.ToLower(format) {
	case "json":
		return "application/json"
	case "csv":
		return "text/csv; charset=utf-8"
	case "yaml":
		return "application/yaml"
	case "pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

// Export encodes tasks in format.
func Export(tasks []models.Task, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "json":
		return json.MarshalIndent(tasks, "", "  ")
	case "csv":
		return exportCSV(tasks)
	case "yaml":
		return yaml.Marshal(tasks)
	case "pdf":
		return exportPDF(tasks)
	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}
}

// exportCSV writes one row per stage; a task without stages gets one row with
// empty stage columns.
func exportCSV(tasks []models.Task) ([]byte, error) {
	var b bytes.Buffer
	w := csv.NewWriter(&b)
	_ = w.Write([]string{"task_id", "title", "priority", "stage_id", "stage", "complete"})

	for _, t := range tasks {
		id := strconv.FormatInt(t.ID, 10)
		if len(t.Stages) == 0 {
			_ = w.Write([]string{id, t.Title, string(t.Priority), "", "", ""})
			continue
		}
		for _, s := range t.Stages {
			_ = w.Write([]string{id, t.Title, string(t.Priority), s.ID, s.Label, strconv.FormatBool(s.Complete)})
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to write csv: %w", err)
	}
	return b.Bytes(), nil
}

func exportPDF(tasks []models.Task) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Tasks", true)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(40, 10, "Tasks")
	pdf.Ln(8)
	pdf.SetFont("Arial", "", 9)
	pdf.Cell(40, 6, time.Now().Format("2006-01-02 15:04"))
	pdf.Ln(10)

	tr := pdf.UnicodeTranslatorFromDescriptor("")
	for _, t := range tasks {
		done, total := t.Progress()

		pdf.SetFont("Arial", "B", 12)
		pdf.MultiCell(0, 7, tr(fmt.Sprintf("%s  [%s]  %d/%d", t.Title, t.Priority, done, total)), "", "L", false)

		pdf.SetFont("Arial", "", 10)
		for _, s := range t.Stages {
			mark := "[ ]"
			if s.Complete {
				mark = "[x]"
			}
			pdf.MultiCell(0, 6, tr(fmt.Sprintf("    %s %s", mark, s.Label)), "", "L", false)
		}
		pdf.Ln(3)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
