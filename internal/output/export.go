package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/versalogiq/logiq/internal/bulk"
)

// csvHeader lists the exported columns in order.
var csvHeader = []string{
	"name", "hostname", "username", "flavor", "detected_flavor", "flavor_mismatch",
	"status", "error_type", "error_message", "response_time", "command_test", "timestamp",
}

// DefaultExportName returns ssh_test_results_<YYYYmmdd_HHMMSS>.<ext>.
func DefaultExportName(now time.Time, ext string) string {
	return fmt.Sprintf("ssh_test_results_%s.%s", now.Format("20060102_150405"), ext)
}

// WriteCSV writes one row per host.
func WriteCSV(w io.Writer, report *bulk.Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range report.Results {
		row := []string{
			r.Name,
			r.Hostname,
			r.Username,
			r.Flavor,
			r.DetectedFlavor,
			strconv.FormatBool(r.FlavorMismatch),
			string(r.Status),
			r.ErrorType,
			r.ErrorMessage,
			strconv.FormatFloat(r.ResponseTime, 'f', 2, 64),
			strconv.FormatBool(r.CommandTest),
			r.Timestamp.Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportDocument is the JSON export layout.
type ExportDocument struct {
	Summary bulk.Summary      `json:"test_summary"`
	Results []bulk.HostResult `json:"results"`
}

// WriteJSON writes the summary and every result, indented.
func WriteJSON(w io.Writer, report *bulk.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(ExportDocument{Summary: report.Summarize(), Results: report.Results})
}

// ExportCSV writes the report to path, or to a timestamped default name
// when path is empty, and returns the file written.
func ExportCSV(path string, report *bulk.Report) (string, error) {
	return exportFile(path, "csv", report, WriteCSV)
}

// ExportJSON is ExportCSV for the JSON layout.
func ExportJSON(path string, report *bulk.Report) (string, error) {
	return exportFile(path, "json", report, WriteJSON)
}

func exportFile(path, ext string, report *bulk.Report, write func(io.Writer, *bulk.Report) error) (string, error) {
	if path == "" {
		path = DefaultExportName(time.Now(), ext)
	}
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := write(f, report); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return path, nil
}
