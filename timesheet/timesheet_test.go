package timesheet

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/warp/payroll-engine/config"
	"github.com/warp/payroll-engine/payroll"
)

var eight = payroll.MustDecimal("8")

func xlsxBytes(t *testing.T, rows [][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		row := r
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func read(t *testing.T, name string, data []byte, in config.InputSettings) ([]payroll.RawTimeEntry, Shape, error) {
	t.Helper()
	return ReadFile(name, data, in, eight)
}

// =============================================================================
// LONG
// =============================================================================

func TestLong_CSV(t *testing.T) {
	// GIVEN a long CSV with a clock-format cell, a blank and a zero row
	data := []byte("Employee,Date,Hours\n" +
		"Ana Ruiz,2025-03-03,8:25\n" +
		"Ana Ruiz,2025-03-04,\n" +
		"Bo Lee,2025-03-03,0\n" +
		"Bo Lee,2025-03-04,9.5\n" +
		"Total,,17.5\n")

	// WHEN normalizing
	entries, shape, err := read(t, "hours.csv", data, config.InputSettings{})

	// THEN only the two worked days become entries
	require.NoError(t, err)
	assert.Equal(t, ShapeLong, shape)
	require.Len(t, entries, 2)
	assert.Equal(t, "Ana Ruiz", entries[0].SourceName)
	assert.Equal(t, "2025-03-03", entries[0].Date.String())
	assert.Equal(t, 505, int(entries[0].Hours.Mul(payroll.MustDecimal("60")).Round(0).IntPart()))
	assert.Equal(t, 2, entries[0].Row)
	assert.Equal(t, "9.5", entries[1].Hours.String())
	assert.Equal(t, 5, entries[1].Row)
}

func TestLong_AmbiguousDateIsFormatError(t *testing.T) {
	data := []byte("Employee,Date,Hours\nAna Ruiz,03/04/2025,8\n")

	_, _, err := read(t, "hours.csv", data, config.InputSettings{})

	var fe *payroll.FormatError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "B2", fe.Cell())
	assert.Contains(t, fe.Reason, "ambiguous")
}

func TestLong_DateOrderResolvesAmbiguity(t *testing.T) {
	data := []byte("Employee,Date,Hours\nAna Ruiz,03/04/2025,8\n")

	mdy, _, err := read(t, "hours.csv", data, config.InputSettings{DateOrder: config.DateOrderMDY})
	require.NoError(t, err)
	assert.Equal(t, "2025-03-04", mdy[0].Date.String())

	dmy, _, err := read(t, "hours.csv", data, config.InputSettings{DateOrder: config.DateOrderDMY})
	require.NoError(t, err)
	assert.Equal(t, "2025-04-03", dmy[0].Date.String())
}

func TestLong_UnambiguousSlashDate(t *testing.T) {
	data := []byte("Employee,Date,Hours\nAna Ruiz,03/14/2025,8\nBo Lee,14/03/2025,8\n")

	entries, _, err := read(t, "hours.csv", data, config.InputSettings{})

	require.NoError(t, err)
	assert.Equal(t, "2025-03-14", entries[0].Date.String())
	assert.Equal(t, "2025-03-14", entries[1].Date.String())
}

func TestLong_BadHoursNamesCell(t *testing.T) {
	tests := map[string]string{
		"text":     "eight",
		"negative": "-2",
		"minutes":  "8:75",
	}
	for name, value := range tests {
		t.Run(name, func(t *testing.T) {
			data := []byte("Employee,Date,Hours\nAna Ruiz,2025-03-03,8\nBo Lee,2025-03-03," + value + "\n")

			_, _, err := read(t, "hours.csv", data, config.InputSettings{})

			var fe *payroll.FormatError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, "C3", fe.Cell())
			assert.Equal(t, value, fe.Value)
		})
	}
}

func TestLong_XLSXWithSerialDates(t *testing.T) {
	data := xlsxBytes(t, [][]any{
		{"Weekly export"},
		{"Employee", "Date", "Hours"},
		{"Ana Ruiz", 45719, 8.42},
	})

	entries, shape, err := read(t, "hours.xlsx", data, config.InputSettings{})

	require.NoError(t, err)
	assert.Equal(t, ShapeLong, shape)
	require.Len(t, entries, 1)
	assert.Equal(t, "2025-03-03", entries[0].Date.String())
	assert.Equal(t, "8.42", entries[0].Hours.String())
	assert.Equal(t, 3, entries[0].Row)
}

// =============================================================================
// WIDE
// =============================================================================

func TestWide_WeekOfAnchor(t *testing.T) {
	// GIVEN a weekly grid for the week starting Thursday 2025-03-06
	data := xlsxBytes(t, [][]any{
		{"Week Of : 03.06.25 - 03.12.25"},
		{"Employee Name:", "Thu", "Fri", "Mon", "Tue"},
		{"Ana Ruiz", 8, "", "sick", 9.5},
	})

	// WHEN normalizing
	entries, shape, err := read(t, "weekly.xlsx", data, config.InputSettings{})

	// THEN weekday columns resolve to dates inside that week
	require.NoError(t, err)
	assert.Equal(t, ShapeWide, shape)
	require.Len(t, entries, 3)
	assert.Equal(t, "2025-03-06", entries[0].Date.String())
	assert.Equal(t, "2025-03-10", entries[1].Date.String())
	assert.True(t, entries[1].Sick)
	assert.Equal(t, "8", entries[1].Hours.String())
	assert.Equal(t, "2025-03-11", entries[2].Date.String())
}

func TestWide_NeedsAnchor(t *testing.T) {
	data := []byte("Name,Mon,Tue\nAna Ruiz,8,8\n")

	_, _, err := read(t, "weekly.csv", data, config.InputSettings{})
	assert.ErrorIs(t, err, payroll.ErrFormat)

	entries, _, err := read(t, "weekly.csv", data, config.InputSettings{WeekStart: "2025-03-06"})
	require.NoError(t, err)
	assert.Equal(t, "2025-03-10", entries[0].Date.String())
	assert.Equal(t, "2025-03-11", entries[1].Date.String())
}

// =============================================================================
// TIME ACTIVITY REPORT
// =============================================================================

func TestTAR_Blocks(t *testing.T) {
	data := xlsxBytes(t, [][]any{
		{"Time Activity Report"},
		{"Timecard Date: 3/3/2025"},
		{"Employee", "", "", "", "", "Total Hours"},
		{"Ana Ruiz", "", "", "", "", 4.5},
		{"Ana Ruiz", "", "", "", "", "4:15"},
		{"Total", "", "", "", "", 8.75},
		{"Timecard Date: 3/4/2025"},
		{"Bo Lee", "", "", "", "", 10.5},
	})

	entries, shape, err := read(t, "tar.xlsx", data, config.InputSettings{})

	require.NoError(t, err)
	assert.Equal(t, ShapeTAR, shape)
	require.Len(t, entries, 3)
	assert.Equal(t, "2025-03-03", entries[0].Date.String())
	assert.Equal(t, "4.25", entries[1].Hours.String())
	assert.Equal(t, "Bo Lee", entries[2].SourceName)
	assert.Equal(t, "2025-03-04", entries[2].Date.String())

	totals := Aggregate(entries)
	require.Len(t, totals, 2)
	assert.Equal(t, "8.75", totals[0].Hours.String())
	assert.Len(t, totals[0].Stints, 2)
}

func TestTAR_ZeroRowsIsFormatError(t *testing.T) {
	data := []byte("Timecard Date: 3/3/2025\nEmployee,,,,,Total Hours\n")

	_, _, err := read(t, "tar.csv", data, config.InputSettings{})

	assert.ErrorIs(t, err, payroll.ErrFormat)
}

// =============================================================================
// DETECTION AND STREAMING
// =============================================================================

func TestUnrecognizedLayout(t *testing.T) {
	_, _, err := read(t, "x.csv", []byte("Foo,Bar\n1,2\n"), config.InputSettings{})
	assert.ErrorIs(t, err, payroll.ErrFormat)

	_, _, err = read(t, "x.csv", nil, config.InputSettings{})
	assert.ErrorIs(t, err, payroll.ErrFormat)
}

func TestUnsupportedExtension(t *testing.T) {
	_, err := Open("hours.pdf", []byte("%PDF"))
	var fe *payroll.FormatError
	require.True(t, errors.As(err, &fe))
	assert.Contains(t, fe.Reason, ".pdf")
}

func TestEntries_StopsEarly(t *testing.T) {
	rows := SliceRows([][]string{
		{"Employee", "Date", "Hours"},
		{"Ana Ruiz", "2025-03-03", "8"},
		{"Ana Ruiz", "2025-03-04", "8"},
		{"Ana Ruiz", "2025-03-05", "not a number"},
	})
	n := New("mem", config.InputSettings{}, eight)

	var got []payroll.RawTimeEntry
	for e, err := range n.Entries(rows) {
		require.NoError(t, err)
		got = append(got, e)
		if len(got) == 2 {
			break
		}
	}
	assert.Len(t, got, 2)
}

func TestAggregate_OrderAndSick(t *testing.T) {
	d := payroll.MustParseDay("2025-03-03")
	entries := []payroll.RawTimeEntry{
		{SourceName: "Bo Lee", Date: d, Hours: payroll.MustDecimal("4")},
		{SourceName: "Ana Ruiz", Date: d.AddDays(1), Hours: payroll.MustDecimal("8"), Sick: true},
		{SourceName: "Ana Ruiz", Date: d, Hours: payroll.MustDecimal("3")},
		{SourceName: "Bo Lee", Date: d, Hours: payroll.MustDecimal("4.5")},
	}

	totals := Aggregate(entries)

	require.Len(t, totals, 3)
	assert.Equal(t, "Ana Ruiz", totals[0].SourceName)
	assert.True(t, totals[1].Sick)
	assert.Equal(t, "8.5", totals[2].Hours.String())
	assert.Equal(t, []string{"Ana Ruiz", "Bo Lee"}, SourceNames(totals))
}
