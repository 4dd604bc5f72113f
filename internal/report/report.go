// Package report lists settled fines for a month and exports them as a spreadsheet.
package report

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"latecomers/internal/ledger"
	"latecomers/internal/metrics"
	"latecomers/internal/store"
)

// SheetName is the worksheet holding exported rows.
const SheetName = "Attendance"

const (
	minColumnWidth  = 15
	archivedDateFmt = "2006-01-02 15:04:05"
)

// ErrNoRecords is returned by Export when the period has no settlements.
var ErrNoRecords = errors.New("no records found for the selected month")

var headers = []string{
	"Roll Number",
	"Department",
	"Late Count",
	"Fine Amount",
	"Payment Status",
	"Created Date",
	"Archived Date",
}

// Period is a validated calendar month.
type Period struct {
	Month time.Month
	Year  int
}

// Tag returns the createdAt tag of archive records settled for the period.
func (p Period) Tag() string { return ledger.PeriodTag(p.Month, p.Year) }

// Filename returns the export file name, e.g. Attendance_03-2025.xlsx.
func (p Period) Filename() string {
	return fmt.Sprintf("Attendance_%02d-%04d.xlsx", int(p.Month), p.Year)
}

// ParsePeriod validates a month (1-12, leading zero allowed) and a four digit year.
func ParsePeriod(month, year string) (Period, error) {
	m, err := strconv.Atoi(strings.TrimSpace(month))
	if err != nil || m < 1 || m > 12 {
		return Period{}, &ledger.ValidationError{Field: "month", Reason: "must be between 1 and 12"}
	}
	year = strings.TrimSpace(year)
	y, err := strconv.Atoi(year)
	if err != nil || len(year) != 4 || y < 1000 {
		return Period{}, &ledger.ValidationError{Field: "year", Reason: "must be a four digit year"}
	}
	return Period{Month: time.Month(m), Year: y}, nil
}

// Export is a rendered spreadsheet.
type Export struct {
	Filename string
	Rows     int
	Data     []byte
}

// Service reads the archive.
type Service struct {
	archive store.Archive
	loc     *time.Location
}

// NewService creates a report service rendering timestamps in loc.
func NewService(archive store.Archive, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{archive: archive, loc: loc}
}

// Records returns the period's archive records ordered by roll number.
func (s *Service) Records(ctx context.Context, p Period) ([]store.ArchiveRecord, error) {
	recs, err := s.archive.ArchiveByPeriod(ctx, p.Tag())
	if err != nil {
		return nil, fmt.Errorf("query archive %q: %w", p.Tag(), err)
	}
	if recs == nil {
		recs = []store.ArchiveRecord{}
	}
	return recs, nil
}

// Export renders the period's archive records as an xlsx workbook.
func (s *Service) Export(ctx context.Context, p Period) (Export, error) {
	recs, err := s.Records(ctx, p)
	if err != nil {
		metrics.Exports.WithLabelValues("error").Inc()
		return Export{}, err
	}
	if len(recs) == 0 {
		metrics.Exports.WithLabelValues("empty").Inc()
		return Export{}, ErrNoRecords
	}

	rows := make([][]any, 0, len(recs))
	for _, rec := range recs {
		rows = append(rows, s.row(rec))
	}
	data, err := render(rows)
	if err != nil {
		metrics.Exports.WithLabelValues("error").Inc()
		return Export{}, fmt.Errorf("render workbook: %w", err)
	}
	metrics.Exports.WithLabelValues("ok").Inc()
	log.Printf("[REPORT] exported %d records for %s", len(recs), p.Tag())
	return Export{Filename: p.Filename(), Rows: len(recs), Data: data}, nil
}

func (s *Service) row(rec store.ArchiveRecord) []any {
	status := "Unpaid"
	if rec.Status {
		status = "Paid"
	}
	archived := "N/A"
	if !rec.ArchivedAt.IsZero() {
		archived = rec.ArchivedAt.In(s.loc).Format(archivedDateFmt)
	}
	return []any{
		rec.RollNumber,
		rec.Dept,
		rec.Count,
		fmt.Sprintf("₹%d", rec.TotalAmount),
		status,
		rec.CreatedAt,
		archived,
	}
}

func render(rows [][]any) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return nil, err
	}

	head := make([]any, len(headers))
	for j, h := range headers {
		head[j] = h
	}
	widths := make([]int, len(headers))
	for i, cells := range append([][]any{head}, rows...) {
		for j, v := range cells {
			if n := utf8.RuneCountInString(fmt.Sprint(v)); n > widths[j] {
				widths[j] = n
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(SheetName, cell, &cells); err != nil {
			return nil, err
		}
	}

	for j, w := range widths {
		col, err := excelize.ColumnNumberToName(j + 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetColWidth(SheetName, col, col, float64(max(w, minColumnWidth))); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
