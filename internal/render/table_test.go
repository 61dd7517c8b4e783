package render

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"example.com/activityboard/internal/domain"
)

func TestRenderSingleRecord(t *testing.T) {
	doc := newFakeDocument(DefaultTableID)
	r := NewRenderer(WithLogger(quietLogger()))

	rows, err := r.Render(doc, []domain.ActivityRecord{{Type: "Run", MovingTime: 1800, TSS: 42.5}})
	require.NoError(t, err)
	require.Equal(t, 1, rows)
	require.Equal(t, [][]string{{"Run", "30", "42.50"}}, doc.table.rows)
}

func TestRenderEmptySequence(t *testing.T) {
	doc := newFakeDocument(DefaultTableID)
	rows, err := NewRenderer(WithLogger(quietLogger())).Render(doc, nil)
	require.NoError(t, err)
	require.Zero(t, rows)
	require.Empty(t, doc.table.rows)
}

func TestRenderPreservesOrderAndCount(t *testing.T) {
	records := []domain.ActivityRecord{
		{Type: "Run", MovingTime: 60, TSS: 1},
		{Type: "Ride", MovingTime: 120, TSS: 2},
		{Type: "Swim", MovingTime: 180, TSS: 3},
		{Type: "Run", MovingTime: 240, TSS: 4},
	}
	doc := newFakeDocument(DefaultTableID)

	rows, err := NewRenderer(WithLogger(quietLogger())).Render(doc, records)
	require.NoError(t, err)
	require.Equal(t, len(records), rows)
	require.Len(t, doc.table.rows, len(records))
	for i, record := range records {
		require.Equal(t, record.Type, doc.table.rows[i][0])
	}
	require.Equal(t, []string{"Ride", "2", "2.00"}, doc.table.rows[1])
}

func TestRenderTwiceDuplicatesRows(t *testing.T) {
	records := []domain.ActivityRecord{
		{Type: "Run", MovingTime: 1800, TSS: 42.5},
		{Type: "Ride", MovingTime: 3600, TSS: 80},
	}
	doc := newFakeDocument(DefaultTableID)
	r := NewRenderer(WithLogger(quietLogger()))

	_, err := r.Render(doc, records)
	require.NoError(t, err)
	_, err = r.Render(doc, records)
	require.NoError(t, err)
	require.Len(t, doc.table.rows, 2*len(records))
	require.Equal(t, doc.table.rows[0], doc.table.rows[2])
}

func TestRenderMissingTarget(t *testing.T) {
	doc := newFakeDocument("some-other-table")
	rows, err := NewRenderer(WithLogger(quietLogger())).Render(doc, []domain.ActivityRecord{{Type: "Run", MovingTime: 60, TSS: 1}})
	require.ErrorIs(t, err, ErrMissingTarget)
	require.Zero(t, rows)
	require.Empty(t, doc.table.rows)
}

func TestRenderCustomTableID(t *testing.T) {
	doc := newFakeDocument("load")
	rows, err := NewRenderer(WithTableID("load"), WithLogger(quietLogger())).Render(doc, []domain.ActivityRecord{{Type: "Swim", MovingTime: 90, TSS: 0}})
	require.NoError(t, err)
	require.Equal(t, 1, rows)
	require.Equal(t, []string{"Swim", "2", "0.00"}, doc.table.rows[0])
}

func TestRenderMalformedRecordAbortsLaterRows(t *testing.T) {
	cases := []struct {
		name   string
		record domain.ActivityRecord
		field  string
	}{
		{name: "missing type", record: domain.ActivityRecord{MovingTime: 60, TSS: 1}, field: "type"},
		{name: "missing moving time", record: domain.ActivityRecord{Type: "Run", MovingTime: math.NaN(), TSS: 1}, field: "movingTime"},
		{name: "negative moving time", record: domain.ActivityRecord{Type: "Run", MovingTime: -60, TSS: 1}, field: "movingTime"},
		{name: "missing tss", record: domain.ActivityRecord{Type: "Run", MovingTime: 60, TSS: math.NaN()}, field: "tss"},
		{name: "infinite tss", record: domain.ActivityRecord{Type: "Run", MovingTime: 60, TSS: math.Inf(1)}, field: "tss"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			records := []domain.ActivityRecord{
				{Type: "Run", MovingTime: 600, TSS: 10},
				tc.record,
				{Type: "Ride", MovingTime: 600, TSS: 10},
			}
			doc := newFakeDocument(DefaultTableID)

			rows, err := NewRenderer(WithLogger(quietLogger())).Render(doc, records)
			require.ErrorIs(t, err, ErrMalformedRecord)
			require.Equal(t, 1, rows)
			require.Len(t, doc.table.rows, 1)

			var malformed *MalformedRecordError
			require.True(t, errors.As(err, &malformed))
			require.Equal(t, 1, malformed.Index)
			require.Equal(t, tc.field, malformed.Field)
		})
	}
}

func TestRenderFromReadsSource(t *testing.T) {
	doc := newFakeDocument(DefaultTableID)
	src := stubSource{records: []domain.ActivityRecord{{Type: "Run", MovingTime: 1800, TSS: 42.5}}}

	rows, err := NewRenderer(WithLogger(quietLogger())).RenderFrom(context.Background(), doc, src)
	require.NoError(t, err)
	require.Equal(t, 1, rows)
}

func TestRenderFromPropagatesSourceError(t *testing.T) {
	doc := newFakeDocument(DefaultTableID)
	boom := errors.New("module not started")

	_, err := NewRenderer(WithLogger(quietLogger())).RenderFrom(context.Background(), doc, stubSource{err: boom})
	require.ErrorIs(t, err, boom)
	require.Empty(t, doc.table.rows)
}

func TestRenderNotifiesObserver(t *testing.T) {
	var gotRows int
	var gotErr error
	r := NewRenderer(WithLogger(quietLogger()), WithObserver(func(rows int, err error) {
		gotRows, gotErr = rows, err
	}))

	_, err := r.Render(newFakeDocument("elsewhere"), []domain.ActivityRecord{{Type: "Run"}})
	require.Error(t, err)
	require.Zero(t, gotRows)
	require.ErrorIs(t, gotErr, ErrMissingTarget)
}

func TestFormatMinutes(t *testing.T) {
	cases := map[float64]string{
		0:    "0",
		29:   "0",
		30:   "1",
		150:  "3",
		1800: "30",
		3599: "60",
	}
	for seconds, want := range cases {
		got, err := FormatMinutes(seconds)
		require.NoError(t, err)
		require.Equal(t, want, got, "seconds=%v", seconds)
	}
}

func TestFormatScore(t *testing.T) {
	cases := map[float64]string{
		0:       "0.00",
		5:       "5.00",
		3.14159: "3.14",
		42.5:    "42.50",
		99.999:  "100.00",
	}
	for score, want := range cases {
		got, err := FormatScore(score)
		require.NoError(t, err)
		require.Equal(t, want, got, "score=%v", score)
	}
}

func quietLogger() logrus.FieldLogger {
	logger, _ := test.NewNullLogger()
	return logger
}

type stubSource struct {
	records []domain.ActivityRecord
	err     error
}

func (s stubSource) Activities(context.Context) ([]domain.ActivityRecord, error) {
	return s.records, s.err
}

type fakeDocument struct {
	id    string
	table *fakeTable
}

func newFakeDocument(id string) *fakeDocument {
	return &fakeDocument{id: id, table: &fakeTable{}}
}

func (d *fakeDocument) TableByID(id string) (Table, bool) {
	if id != d.id {
		return nil, false
	}
	return d.table, true
}

type fakeTable struct {
	rows [][]string
}

func (t *fakeTable) InsertRow() Row {
	t.rows = append(t.rows, nil)
	return &fakeRow{table: t, index: len(t.rows) - 1}
}

type fakeRow struct {
	table *fakeTable
	index int
}

func (r *fakeRow) InsertCell() Cell {
	r.table.rows[r.index] = append(r.table.rows[r.index], "")
	return &fakeCell{row: r, index: len(r.table.rows[r.index]) - 1}
}

type fakeCell struct {
	row   *fakeRow
	index int
}

func (c *fakeCell) SetText(text string) {
	c.row.table.rows[c.row.index][c.index] = text
}

func TestReason(t *testing.T) {
	require.Equal(t, "", Reason(nil))
	require.Equal(t, "missing_target", Reason(ErrMissingTarget))
	require.Equal(t, "malformed_record", Reason(&MalformedRecordError{Index: 2, Field: "tss"}))
	require.Equal(t, "source", Reason(errors.New("boom")))
}
