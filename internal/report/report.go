// Package report renders the doctor queue as a PDF.
package report

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/signintech/gopdf"
	"github.com/sirupsen/logrus"

	"diagnosure/pkg"
)

// ErrFontUnavailable is returned when no TrueType font could be loaded.
var ErrFontUnavailable = errors.New("no usable font for PDF report")

const (
	fontFamily = "DejaVu"
	textWidth  = 500
)

// DefaultFontPaths are tried after the configured font.
var DefaultFontPaths = []string{
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/ttf-dejavu/DejaVuSans.ttf",
}

// Renderer builds queue reports.
type Renderer struct {
	fontPaths []string
	log       *logrus.Logger
}

// NewRenderer returns a Renderer that loads fontPath, falling back to
// DefaultFontPaths.  fontPath may be empty.
func NewRenderer(fontPath string, logger *logrus.Logger) *Renderer {
	paths := make([]string, 0, len(DefaultFontPaths)+1)
	if fontPath != "" {
		paths = append(paths, fontPath)
	}
	paths = append(paths, DefaultFontPaths...)
	return &Renderer{fontPaths: paths, log: logger}
}

// Line is one rendered queue entry.
type Line struct {
	Header string
	Detail []string
}

// Lines formats a ranked queue, one entry per booking in rank order.
func Lines(q *pkg.DoctorQueue) []Line {
	lines := make([]Line, 0, len(q.Bookings))
	for i, b := range q.Bookings {
		header := fmt.Sprintf("%d. %s (%d) - %s - score %d - %s",
			i+1, b.PatientName, b.Age, strings.ToUpper(string(b.Urgency)), b.Score, b.Status)
		detail := []string{
			fmt.Sprintf("%s, %s %s", b.HospitalName, b.Date, b.Slot),
		}
		if len(b.Symptoms) > 0 {
			detail = append(detail, "Symptoms: "+strings.Join(b.Symptoms, "; "))
		}
		if b.Diagnosis != nil {
			detail = append(detail, "Leading diagnosis: "+*b.Diagnosis)
		}
		if b.Note != "" {
			detail = append(detail, "Note: "+b.Note)
		}
		lines = append(lines, Line{Header: header, Detail: detail})
	}
	return lines
}

// QueuePDF renders the queue and returns the PDF bytes.
func (r *Renderer) QueuePDF(q *pkg.DoctorQueue, generated time.Time) ([]byte, error) {
	pdf := gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	pdf.AddPage()

	if err := r.loadFont(&pdf); err != nil {
		return nil, err
	}

	if err := pdf.SetFont(fontFamily, "", 18); err != nil {
		return nil, err
	}
	pdf.Cell(nil, "Patient queue")
	pdf.Br(26)

	if err := pdf.SetFont(fontFamily, "", 11); err != nil {
		return nil, err
	}
	pdf.Cell(nil, "Generated: "+generated.Format("02 Jan 2006 15:04"))
	pdf.Br(14)
	pdf.Cell(nil, fmt.Sprintf("Total: %d  Pending: %d  Critical: %d  Today: %d",
		q.Stats.Total, q.Stats.Pending, q.Stats.Critical, q.Stats.Today))
	pdf.Br(24)

	entries := Lines(q)
	if len(entries) == 0 {
		pdf.Cell(nil, "No bookings.")
		pdf.Br(14)
	}
	for _, e := range entries {
		if pdf.GetY() > 760 {
			pdf.AddPage()
		}
		if err := pdf.SetFont(fontFamily, "", 12); err != nil {
			return nil, err
		}
		pdf.Cell(nil, e.Header)
		pdf.Br(15)
		if err := pdf.SetFont(fontFamily, "", 10); err != nil {
			return nil, err
		}
		for _, d := range e.Detail {
			wrapped, err := pdf.SplitText(d, textWidth)
			if err != nil {
				wrapped = []string{d}
			}
			for _, l := range wrapped {
				pdf.Cell(nil, l)
				pdf.Br(12)
			}
		}
		pdf.Br(8)
	}

	var buf bytes.Buffer
	if _, err := pdf.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write PDF: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *Renderer) loadFont(pdf *gopdf.GoPdf) error {
	var lastErr error
	for _, path := range r.fontPaths {
		if err := pdf.AddTTFFont(fontFamily, path); err != nil {
			lastErr = err
			continue
		}
		r.log.WithField("font", path).Debug("Loaded report font")
		return nil
	}
	r.log.WithError(lastErr).Error("Failed to load a report font")
	return fmt.Errorf("%w: %v", ErrFontUnavailable, lastErr)
}
