package csv

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"airtablecollector/models"
)

// DateLayout is the layout of exported file names
const DateLayout = "2006-01-02"

var (
	// ErrEmptyInput is returned when there are no records to export
	ErrEmptyInput = errors.New("no records to export")
	// ErrUnexpectedField is returned under the strict header policy when a
	// record carries a field the first record does not have
	ErrUnexpectedField = errors.New("unexpected field")
	// ErrNoColumns is returned when the header is empty but records carry fields
	ErrNoColumns = errors.New("header has no columns")
)

// Status classifies the outcome of an export
type Status int

const (
	StatusSuccess Status = iota
	StatusEmptyInput
	StatusIOFailure
	StatusSchemaMismatch
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusEmptyInput:
		return "empty_input"
	case StatusIOFailure:
		return "io_failure"
	case StatusSchemaMismatch:
		return "schema_mismatch"
	default:
		return "unknown"
	}
}

// Result describes what ExportRecords did
type Result struct {
	Status  Status
	Path    string
	Rows    int
	Header  []string
	Dropped int
	Err     error
}

// OK reports whether the file was written and moved into place
func (r Result) OK() bool {
	return r.Status == StatusSuccess
}

// FileName returns the export file name for the given day
func FileName(date time.Time) string {
	return date.Format(DateLayout) + ".csv"
}

// ExportRecords writes records to <Directory>/<date>.csv.
// The file is staged under a unique name first, so exports running at the
// same time never share a temporary file.
func ExportRecords(records []models.Record, options models.WriteOptions) Result {
	if len(records) == 0 {
		return Result{Status: StatusEmptyInput, Err: ErrEmptyInput}
	}

	header, err := BuildHeader(records, options.HeaderPolicy)
	if err != nil {
		return Result{Status: StatusSchemaMismatch, Err: err}
	}
	if len(header) == 0 {
		if rec, ok := firstWithFields(records); ok {
			return Result{Status: StatusSchemaMismatch, Err: fmt.Errorf("%w: first record is blank, record %s has fields", ErrNoColumns, rec.ID)}
		}
		return Result{Status: StatusEmptyInput, Err: fmt.Errorf("%w: every record is blank", ErrEmptyInput)}
	}

	rows, dropped := Flatten(records, header, options.IncludeRecordID)
	if options.IncludeRecordID {
		header = append([]string{IDColumn(header)}, header...)
	}

	date := options.Date
	if date.IsZero() {
		date = time.Now()
	}
	fullPath := filepath.Join(options.Directory, FileName(date))

	if err := writeStaged(fullPath, options.StagingDir, header, rows); err != nil {
		return Result{Status: StatusIOFailure, Header: header, Dropped: dropped, Err: err}
	}

	return Result{
		Status:  StatusSuccess,
		Path:    fullPath,
		Rows:    len(rows),
		Header:  header,
		Dropped: dropped,
	}
}

// BuildHeader derives the column list according to policy
func BuildHeader(records []models.Record, policy models.HeaderPolicy) ([]string, error) {
	if len(records) == 0 {
		return nil, ErrEmptyInput
	}

	header := records[0].Fields.Names()
	known := make(map[string]bool, len(header))
	for _, name := range header {
		known[name] = true
	}

	switch policy {
	case models.HeaderUnion:
		for _, rec := range records[1:] {
			for _, f := range rec.Fields {
				if !known[f.Name] {
					known[f.Name] = true
					header = append(header, f.Name)
				}
			}
		}
	case models.HeaderStrict:
		for _, rec := range records[1:] {
			for _, f := range rec.Fields {
				if !known[f.Name] {
					return nil, fmt.Errorf("%w %q in record %s", ErrUnexpectedField, f.Name, rec.ID)
				}
			}
		}
	case models.HeaderFirst, "":
	default:
		return nil, fmt.Errorf("unknown header policy %q", policy)
	}

	return header, nil
}

// IDColumn names the record ID column so it does not clash with a field
func IDColumn(header []string) string {
	taken := make(map[string]bool, len(header))
	for _, name := range header {
		taken[name] = true
	}
	name := "id"
	if taken[name] {
		name = "record_id"
	}
	for taken[name] {
		name = "_" + name
	}
	return name
}

func firstWithFields(records []models.Record) (models.Record, bool) {
	for _, rec := range records {
		if len(rec.Fields) > 0 {
			return rec, true
		}
	}
	return models.Record{}, false
}

// Flatten turns records into CSV rows ordered by header.
// Missing fields become empty cells; fields outside the header are counted
// and left out.
func Flatten(records []models.Record, header []string, includeID bool) ([][]string, int) {
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[name] = i
	}

	offset := 0
	if includeID {
		offset = 1
	}

	dropped := 0
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		row := make([]string, len(header)+offset)
		if includeID {
			row[0] = rec.ID
		}
		for _, f := range rec.Fields {
			i, ok := index[f.Name]
			if !ok {
				dropped++
				continue
			}
			row[i+offset] = FormatValue(f.Value)
		}
		rows = append(rows, row)
	}
	return rows, dropped
}

// FormatValue renders a decoded field value as a CSV cell
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(val); err != nil {
			return fmt.Sprintf("%v", val)
		}
		return strings.TrimSuffix(buf.String(), "\n")
	}
}

func writeStaged(fullPath, stagingDir string, header []string, rows [][]string) error {
	if stagingDir == "" {
		stagingDir = "."
	}

	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("error creating directory: %w", err)
	}

	file, err := os.CreateTemp(stagingDir, "."+filepath.Base(fullPath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("error creating staging file: %w", err)
	}
	tmpPath := file.Name()

	if err := file.Chmod(0644); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("error setting file mode: %w", err)
	}
	if err := writeCSV(file, header, rows); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("error syncing staging file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("error closing staging file: %w", err)
	}

	if err := moveFile(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

func writeCSV(w io.Writer, header []string, rows [][]string) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(header); err != nil {
		return fmt.Errorf("error writing headers to CSV: %w", err)
	}
	if err := writer.WriteAll(rows); err != nil {
		return fmt.Errorf("error writing data to CSV: %w", err)
	}
	return nil
}

// moveFile renames src to dst, copying when they live on different devices
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return fmt.Errorf("error moving %s to %s: %w", src, dst, err)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("error opening staging file: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("error creating CSV file: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("error copying to %s: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("error closing CSV file: %w", err)
	}
	return os.Remove(src)
}
