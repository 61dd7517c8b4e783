// Package render projects activity records into rows of a document table.
package render

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/sirupsen/logrus"

	"example.com/activityboard/internal/domain"
)

// DefaultTableID is the identifier of the table activity rows are appended to.
const DefaultTableID = "activities-table"

var (
	// ErrMissingTarget is returned when the document has no table with the configured id.
	ErrMissingTarget = errors.New("render target not found")
	// ErrMalformedRecord is matched by every *MalformedRecordError.
	ErrMalformedRecord = errors.New("malformed activity record")
)

// MalformedRecordError reports the record and field that could not be formatted.
type MalformedRecordError struct {
	Index int
	Field string
	Value string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("record %d: field %s: invalid value %s", e.Index, e.Field, e.Value)
}

// Unwrap lets errors.Is match ErrMalformedRecord.
func (e *MalformedRecordError) Unwrap() error { return ErrMalformedRecord }

// Reason classifies a render error for metrics and logs; nil yields "".
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMissingTarget):
		return "missing_target"
	case errors.Is(err, ErrMalformedRecord):
		return "malformed_record"
	}
	return "source"
}

// Document locates tables by identifier.
type Document interface {
	TableByID(id string) (Table, bool)
}

// Table appends rows at its end.
type Table interface {
	InsertRow() Row
}

// Row appends cells at its end.
type Row interface {
	InsertCell() Cell
}

// Cell holds text content. Implementations escape the text for their medium.
type Cell interface {
	SetText(text string)
}

// Source supplies the records to render.
type Source interface {
	Activities(ctx context.Context) ([]domain.ActivityRecord, error)
}

// Option configures the Renderer.
type Option func(*Renderer)

// WithTableID overrides DefaultTableID.
func WithTableID(id string) Option {
	return func(r *Renderer) {
		r.tableID = id
	}
}

// WithLogger overrides the logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(r *Renderer) {
		r.logger = logger
	}
}

// WithObserver registers a callback invoked after every render with the rows appended and the error, if any.
func WithObserver(fn func(rows int, err error)) Option {
	return func(r *Renderer) {
		r.observe = fn
	}
}

// Renderer appends one table row per activity record.
type Renderer struct {
	tableID string
	logger  logrus.FieldLogger
	observe func(rows int, err error)
}

// NewRenderer constructs a Renderer.
func NewRenderer(opts ...Option) *Renderer {
	r := &Renderer{
		tableID: DefaultTableID,
		logger:  logrus.StandardLogger().WithField("component", "render"),
		observe: func(int, error) {},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render appends a row per record, in order, and returns the number of rows appended.
// Rows appended before a malformed record stay in the document. Rendering the same
// records twice appends them twice.
func (r *Renderer) Render(doc Document, records []domain.ActivityRecord) (int, error) {
	rows, err := r.render(doc, records)
	r.observe(rows, err)
	if err != nil {
		r.logger.WithError(err).WithField("rows", rows).Warn("render aborted")
		return rows, err
	}
	r.logger.WithField("rows", rows).Debug("rendered activity table")
	return rows, nil
}

// RenderFrom reads every record from the source in one call and renders them.
func (r *Renderer) RenderFrom(ctx context.Context, doc Document, src Source) (int, error) {
	records, err := src.Activities(ctx)
	if err != nil {
		err = fmt.Errorf("read activities: %w", err)
		r.observe(0, err)
		return 0, err
	}
	return r.Render(doc, records)
}

func (r *Renderer) render(doc Document, records []domain.ActivityRecord) (int, error) {
	table, ok := doc.TableByID(r.tableID)
	if !ok {
		return 0, fmt.Errorf("%w: #%s", ErrMissingTarget, r.tableID)
	}

	for i, record := range records {
		cells, err := formatRecord(i, record)
		if err != nil {
			return i, err
		}
		row := table.InsertRow()
		for _, text := range cells {
			row.InsertCell().SetText(text)
		}
	}
	return len(records), nil
}

// formatRecord produces the three cell texts before any node is created, so a
// malformed record never leaves a partial row behind.
func formatRecord(index int, record domain.ActivityRecord) ([3]string, error) {
	var cells [3]string
	if record.Type == "" {
		return cells, &MalformedRecordError{Index: index, Field: "type", Value: strconv.Quote(record.Type)}
	}
	cells[0] = record.Type

	minutes, err := FormatMinutes(record.MovingTime)
	if err != nil {
		return cells, &MalformedRecordError{Index: index, Field: "movingTime", Value: formatRaw(record.MovingTime)}
	}
	cells[1] = minutes

	score, err := FormatScore(record.TSS)
	if err != nil {
		return cells, &MalformedRecordError{Index: index, Field: "tss", Value: formatRaw(record.TSS)}
	}
	cells[2] = score
	return cells, nil
}

var errNotDisplayable = errors.New("value is negative or not finite")

// FormatMinutes converts seconds to whole minutes, rounding half away from zero.
func FormatMinutes(seconds float64) (string, error) {
	if !displayable(seconds) {
		return "", errNotDisplayable
	}
	return strconv.FormatFloat(math.Round(seconds/60), 'f', 0, 64), nil
}

// FormatScore renders a score with exactly two decimals.
func FormatScore(score float64) (string, error) {
	if !displayable(score) {
		return "", errNotDisplayable
	}
	return strconv.FormatFloat(score, 'f', 2, 64), nil
}

func displayable(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}

func formatRaw(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
