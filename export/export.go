// Package export renders seal listings as CSV or XLSX.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"sealtrack/audit"
	"sealtrack/lifecycle"
	"sealtrack/models"
	"sealtrack/portal"
)

type Format string

const (
	CSV  Format = "csv"
	XLSX Format = "xlsx"
)

var ErrFormat = errors.New("unsupported export format")

// ParseFormat defaults to CSV.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", CSV:
		return CSV, nil
	case XLSX:
		return XLSX, nil
	}
	return "", fmt.Errorf("%w: %q", ErrFormat, s)
}

func (f Format) ContentType() string {
	if f == XLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}

const sheetName = "Seals"

var headings = []string{
	"ID", "Serial Code", "QR Code", "Status", "Current Station", "Source Station",
	"Destination Station", "In Use", "Issued To", "Days In Transit", "Images", "Notes", "Last Updated",
}

func row(s *models.Seal, now time.Time) []interface{} {
	issuedTo := ""
	if s.IssuedTo != nil {
		issuedTo = s.IssuedTo.Name
	}
	return []interface{}{
		s.ID, s.SerialCode, s.QRCode, string(s.Status), s.CurrentStation, s.SourceStation,
		s.DestinationStation, !s.IsUnutilized, issuedTo, s.DaysInTransit(now), len(s.Images), s.Notes,
		s.LastUpdated.UTC().Format(time.RFC3339),
	}
}

// WriteCSV writes one header row and one row per seal.
func WriteCSV(w io.Writer, seals []models.Seal, now time.Time) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(headings); err != nil {
		return err
	}
	for i := range seals {
		values := row(&seals[i], now)
		record := make([]string, len(values))
		for j, v := range values {
			switch v := v.(type) {
			case string:
				record[j] = v
			case bool:
				record[j] = strconv.FormatBool(v)
			case int:
				record[j] = strconv.Itoa(v)
			}
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteXLSX writes a single "Seals" sheet.
func WriteXLSX(w io.Writer, seals []models.Seal, now time.Time) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return err
	}
	if err := f.SetSheetRow(sheetName, "A1", &headings); err != nil {
		return err
	}
	for i := range seals {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := row(&seals[i], now)
		if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
			return err
		}
	}
	return f.Write(w)
}

// Lister returns the seals visible to a session.
type Lister interface {
	List(ctx context.Context, session *portal.Session, f lifecycle.Filter) ([]models.Seal, error)
}

// Auditor records exports.
type Auditor interface {
	Record(ctx context.Context, actor *models.Actor, e audit.Entry)
}

// Uploader stores an export and returns a time-limited download URL.
type Uploader interface {
	Upload(ctx context.Context, name, contentType string, data []byte) (string, time.Time, error)
}

// Result is either inline data or, when an uploader is configured, a URL.
type Result struct {
	Filename    string    `json:"filename"`
	ContentType string    `json:"contentType"`
	Count       int       `json:"count"`
	Data        []byte    `json:"-"`
	URL         string    `json:"downloadUrl,omitempty"`
	ExpiresAt   time.Time `json:"expiresAt,omitempty"`
}

type Exporter struct {
	seals    Lister
	uploader Uploader
	audit    Auditor
	now      func() time.Time
	log      zerolog.Logger
}

// NewExporter creates an exporter. uploader may be nil to always return data inline.
func NewExporter(seals Lister, uploader Uploader, auditor Auditor, now func() time.Time, log zerolog.Logger) *Exporter {
	if now == nil {
		now = time.Now
	}
	return &Exporter{seals: seals, uploader: uploader, audit: auditor, now: now, log: log}
}

// Export renders the session's seals matching filter.
func (e *Exporter) Export(ctx context.Context, session *portal.Session, format Format, filter lifecycle.Filter) (*Result, error) {
	if err := session.Require(portal.ExportSeals); err != nil {
		return nil, err
	}
	seals, err := e.seals.List(ctx, session, filter)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	var buf bytes.Buffer
	switch format {
	case CSV:
		err = WriteCSV(&buf, seals, now)
	case XLSX:
		err = WriteXLSX(&buf, seals, now)
	default:
		return nil, fmt.Errorf("%w: %q", ErrFormat, format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to render %s export: %w", format, err)
	}

	res := &Result{
		Filename:    fmt.Sprintf("seals-%s.%s", now.Format("20060102-150405"), format),
		ContentType: format.ContentType(),
		Count:       len(seals),
	}
	if e.uploader != nil {
		url, expires, err := e.uploader.Upload(ctx, "exports/"+res.Filename, res.ContentType, buf.Bytes())
		if err != nil {
			return nil, fmt.Errorf("failed to upload export: %w", err)
		}
		res.URL, res.ExpiresAt = url, expires
	} else {
		res.Data = buf.Bytes()
	}

	e.audit.Record(ctx, session.Actor(), audit.Exported(string(format), len(seals)))
	e.log.Info().Str("format", string(format)).Int("count", len(seals)).Bool("uploaded", res.URL != "").Msg("seals exported")
	return res, nil
}
