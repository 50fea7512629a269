package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/aDN03/CC/internal/models"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func TestFiles_AppendReport(t *testing.T) {
	f, err := NewFiles(t.TempDir())
	require.NoError(t, err)
	at := time.Date(2024, 11, 3, 9, 4, 5, 0, time.Local)

	ctx := context.Background()
	require.NoError(t, f.AppendReport(ctx, models.Report{TaskID: "task-202", Peer: "10.0.0.2", Text: "Latência média para 8.8.8.8: 12.40 ms", Received: at}))
	require.NoError(t, f.AppendReport(ctx, models.Report{TaskID: "task-202", Peer: "10.0.0.2", Text: "two\nlines\n", Received: at}))

	lines := readLines(t, filepath.Join(f.Dir(), "task-202.txt"))
	assert.Equal(t, []string{
		"2024-11-03 09:04:05|10.0.0.2|Latência média para 8.8.8.8: 12.40 ms",
		`2024-11-03 09:04:05|10.0.0.2|two\nlines`,
	}, lines)
}

func TestFiles_AppendReportRejectsEmptyTask(t *testing.T) {
	f, err := NewFiles(t.TempDir())
	require.NoError(t, err)
	assert.Error(t, f.AppendReport(context.Background(), models.Report{Text: "x"}))
}

func TestFiles_PathsStayInsideDir(t *testing.T) {
	f, err := NewFiles(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, f.Dir(), filepath.Dir(f.ReportPath("../../etc/passwd")))
	assert.Equal(t, f.Dir(), filepath.Dir(f.AlertPath("fe80::1")))
}

func TestFiles_AppendAlert(t *testing.T) {
	f, err := NewFiles(t.TempDir())
	require.NoError(t, err)
	at := time.Date(2024, 11, 3, 9, 4, 5, 0, time.Local)

	require.NoError(t, f.AppendAlert(context.Background(), models.Alert{Peer: "10.0.0.3", Text: "ALERT!!!: CPU usage 97.00%", Received: at}))

	lines := readLines(t, filepath.Join(f.Dir(), "alerts-10.0.0.3.txt"))
	assert.Equal(t, []string{"2024-11-03 09:04:05|10.0.0.3|ALERT!!!: CPU usage 97.00%"}, lines)
}

func TestFiles_ConnectionsRoundTrip(t *testing.T) {
	f, err := NewFiles(t.TempDir())
	require.NoError(t, err)

	conns, err := f.LoadConnections()
	require.NoError(t, err)
	assert.Empty(t, conns)

	at := time.Date(2024, 11, 3, 9, 4, 5, 0, time.Local)
	want := []models.Connection{
		{IP: "10.0.0.2", Port: 40000, LastActive: at},
		{IP: "10.0.0.3", Port: 40001, LastActive: at.Add(time.Second)},
	}
	require.NoError(t, f.SaveConnections(want))

	lines := readLines(t, filepath.Join(f.Dir(), ConnectionsFile))
	assert.Equal(t, "10.0.0.2|40000|2024-11-03 09:04:05", lines[0])

	got, err := f.LoadConnections()
	require.NoError(t, err)
	require.Len(t, got, 2)
	for i := range want {
		assert.Equal(t, want[i].IP, got[i].IP)
		assert.Equal(t, want[i].Port, got[i].Port)
		assert.True(t, want[i].LastActive.Equal(got[i].LastActive))
	}

	require.NoError(t, f.SaveConnections(nil))
	got, err = f.LoadConnections()
	require.NoError(t, err)
	assert.Empty(t, got)

	entries, err := os.ReadDir(f.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestReadConnections_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConnectionsFile)
	require.NoError(t, os.WriteFile(path, []byte("10.0.0.2|notaport|2024-11-03 09:04:05\n"), 0o644))

	_, err := ReadConnections(path)
	assert.ErrorContains(t, err, "line 1")
}

type failingSink struct{}

func (failingSink) AppendReport(context.Context, models.Report) error {
	return errors.New("unavailable")
}

func TestTee_MirrorFailureIsNotFatal(t *testing.T) {
	f, err := NewFiles(t.TempDir())
	require.NoError(t, err)
	tee := NewTee(zap.NewNop(), f, failingSink{})

	require.NoError(t, tee.AppendReport(context.Background(), models.Report{TaskID: "t1", Peer: "p", Text: "ok"}))
	assert.FileExists(t, f.ReportPath("t1"))
}

func TestTee_PrimaryFailureIsReturned(t *testing.T) {
	tee := NewTee(zap.NewNop(), failingSink{})
	assert.Error(t, tee.AppendReport(context.Background(), models.Report{TaskID: "t1"}))
}

func TestRedisMirror_AppendReport(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	m, err := NewRedisMirror(ctx, "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	defer m.Close()

	at := time.UnixMilli(1730624645000)
	require.NoError(t, m.AppendReport(ctx, models.Report{TaskID: "task-202", Peer: "10.0.0.2", Text: "Jitter para 8.8.8.8: 0.31 ms", Received: at}))

	values, err := mr.List(ReportKey("task-202"))
	require.NoError(t, err)
	require.Len(t, values, 1)

	var rec MirroredReport
	require.NoError(t, msgpack.Unmarshal([]byte(values[0]), &rec))
	assert.Equal(t, "task-202", rec.TaskID)
	assert.Equal(t, "10.0.0.2", rec.Peer)
	assert.Equal(t, "Jitter para 8.8.8.8: 0.31 ms", rec.Text)
	assert.Equal(t, int64(1730624645000), rec.TimestampMs)
	assert.Len(t, rec.ID, 36)
}

func TestNewRedisMirror_BadURL(t *testing.T) {
	_, err := NewRedisMirror(context.Background(), "not-a-url")
	assert.Error(t, err)
}
