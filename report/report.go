// Package report summarises exported balances and bundles the day's CSV files
package report

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"airtablecollector/models"
)

// Summary aggregates a numeric balance field over a table
type Summary struct {
	Records  int
	Negative int
	Total    float64
	Skipped  int
}

// Summarize totals field across records. Values that are not numbers are
// counted in Skipped; records without the field count as zero.
func Summarize(records []models.Record, field string) Summary {
	s := Summary{Records: len(records)}
	for _, rec := range records {
		v, ok := rec.Fields.Get(field)
		if !ok || v == nil {
			continue
		}
		amount, ok := toFloat(v)
		if !ok {
			s.Skipped++
			continue
		}
		s.Total += amount
		if amount < 0 {
			s.Negative++
		}
	}
	return s
}

var totalLocale = language.MustParse("en-CA")

// FormatTotal renders the total as Canadian dollars, e.g. $1,234.50 or -$10.00
func (s Summary) FormatTotal() string {
	p := message.NewPrinter(totalLocale)
	scale, _ := currency.Standard.Rounding(currency.CAD)

	sign, amount := "", s.Total
	if amount < 0 {
		sign, amount = "-", -amount
	}
	return sign + p.Sprint(currency.Symbol(currency.CAD)) + p.Sprint(number.Decimal(amount, number.Scale(scale)))
}

func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case float64:
		return val, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Entry is a file to include in a bundle under Name
type Entry struct {
	Name string
	Path string
}

// BundleName returns the archive name for a day
func BundleName(prefix string, date time.Time) string {
	return fmt.Sprintf("%s_%s.zip", prefix, date.Format("2006-01-02"))
}

// Bundle writes entries into a zip archive at dest
func Bundle(dest string, entries []Entry) error {
	if len(entries) == 0 {
		return fmt.Errorf("nothing to bundle")
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("error creating directory: %w", err)
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("error creating bundle: %w", err)
	}

	zw := zip.NewWriter(out)
	for _, e := range entries {
		if err := addFile(zw, e); err != nil {
			zw.Close()
			out.Close()
			os.Remove(dest)
			return err
		}
	}
	if err := zw.Close(); err != nil {
		out.Close()
		os.Remove(dest)
		return fmt.Errorf("error finalising bundle: %w", err)
	}
	return out.Close()
}

func addFile(zw *zip.Writer, e Entry) error {
	in, err := os.Open(e.Path)
	if err != nil {
		return fmt.Errorf("error opening %s: %w", e.Path, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("error reading %s: %w", e.Path, err)
	}

	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = e.Name
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("error adding %s: %w", e.Name, err)
	}
	if _, err := io.Copy(w, in); err != nil {
		return fmt.Errorf("error writing %s: %w", e.Name, err)
	}
	return nil
}
