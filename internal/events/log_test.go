package events

import (
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return records
}

func TestCSVLog_HeaderOnNewFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "vehicle_log_all.csv")

	l, err := OpenCSVLog(path)
	require.NoError(t, err)
	require.NoError(t, l.Append(testEvent(1)))
	require.NoError(t, l.Close())

	records := readCSV(t, path)
	require.Len(t, records, 2)
	assert.Equal(t, LogHeader, records[0])
	assert.Equal(t, testEvent(1).Record(), records[1])
}

func TestCSVLog_NoSecondHeaderOnReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vehicle_log_all.csv")

	l, err := OpenCSVLog(path)
	require.NoError(t, err)
	require.NoError(t, l.Append(testEvent(1)))
	require.NoError(t, l.Close())

	l, err = OpenCSVLog(path)
	require.NoError(t, err)
	require.NoError(t, l.Append(testEvent(2)))
	require.NoError(t, l.Close())

	records := readCSV(t, path)
	require.Len(t, records, 3)
	assert.Equal(t, "Timestamp", records[0][0])
	assert.Equal(t, "2", records[2][2])
}

func TestCSVLog_HeaderOnEmptyExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vehicle_log_all.csv")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	l, err := OpenCSVLog(path)
	require.NoError(t, err)
	require.NoError(t, l.Close())

	records := readCSV(t, path)
	require.Len(t, records, 1)
	assert.Equal(t, LogHeader, records[0])
}

func TestCSVLog_LineVisibleBeforeClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vehicle_log_all.csv")

	l, err := OpenCSVLog(path)
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.Append(testEvent(9)))
	records := readCSV(t, path)
	require.Len(t, records, 2)
	assert.Equal(t, "9", records[1][2])
}

func TestCSVLog_QuotesFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vehicle_log_all.csv")

	l, err := OpenCSVLog(path)
	require.NoError(t, err)
	e := testEvent(3)
	e.LocationID = "Rai ka bagh, Jodhpur"
	require.NoError(t, l.Append(e))
	require.NoError(t, l.Close())

	records := readCSV(t, path)
	assert.Equal(t, "Rai ka bagh, Jodhpur", records[1][3])
}

func TestCSVLog_AppendAfterClose(t *testing.T) {
	l, err := OpenCSVLog(filepath.Join(t.TempDir(), "log.csv"))
	require.NoError(t, err)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	assert.ErrorIs(t, l.Append(testEvent(1)), os.ErrClosed)
}

// flakyFile fails the first n writes, like a briefly full disk
type flakyFile struct {
	*os.File
	failures int
}

func (f *flakyFile) Write(p []byte) (int, error) {
	if f.failures > 0 {
		f.failures--
		return 0, errors.New("no space left on device")
	}
	return f.File.Write(p)
}

func TestCSVLog_RecoversAfterFailedWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vehicle_log_all.csv")

	l, err := OpenCSVLog(path)
	require.NoError(t, err)
	l.file = &flakyFile{File: l.file.(*os.File), failures: 1}
	l.writer = csv.NewWriter(l.file)

	assert.Error(t, l.Append(testEvent(1)))
	require.NoError(t, l.Append(testEvent(2)))
	require.NoError(t, l.Append(testEvent(3)))
	require.NoError(t, l.Close())

	records := readCSV(t, path)
	require.Len(t, records, 3)
	assert.Equal(t, LogHeader, records[0])
	assert.Equal(t, "2", records[1][2])
	assert.Equal(t, "3", records[2][2])
}
