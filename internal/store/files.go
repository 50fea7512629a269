// Package store persists controller state: the connection table, one
// append-only report log per task and one alert log per peer.
package store

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aDN03/CC/internal/models"
)

const (
	// TimeLayout is the timestamp format of every persisted line.
	TimeLayout = "2006-01-02 15:04:05"

	// ConnectionsFile is the name of the persisted connection table.
	ConnectionsFile = "connections.txt"

	fieldSep = "|"
)

// ReportSink files reports.
type ReportSink interface {
	AppendReport(ctx context.Context, r models.Report) error
}

// AlertSink files alerts.
type AlertSink interface {
	AppendAlert(ctx context.Context, a models.Alert) error
}

// Files stores everything as line-oriented text files under one directory.
type Files struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

// NewFiles creates the directory if needed.
func NewFiles(dir string) (*Files, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Files{dir: dir, now: time.Now}, nil
}

// Dir returns the storage directory.
func (f *Files) Dir() string {
	return f.dir
}

// ReportPath returns the log file of a task.
func (f *Files) ReportPath(taskID string) string {
	return filepath.Join(f.dir, safeName(taskID)+".txt")
}

// AlertPath returns the alert log of a peer.
func (f *Files) AlertPath(peer string) string {
	return filepath.Join(f.dir, "alerts-"+safeName(peer)+".txt")
}

// AppendReport appends one line to the task's report log.
func (f *Files) AppendReport(_ context.Context, r models.Report) error {
	if r.TaskID == "" {
		return errors.New("append report: empty task id")
	}
	line := f.line(r.Received, r.Peer, r.Text)
	if err := f.appendLine(f.ReportPath(r.TaskID), line); err != nil {
		return fmt.Errorf("append report for task %s: %w", r.TaskID, err)
	}
	return nil
}

// AppendAlert appends one line to the peer's alert log.
func (f *Files) AppendAlert(_ context.Context, a models.Alert) error {
	line := f.line(a.Received, a.Peer, a.Text)
	if err := f.appendLine(f.AlertPath(a.Peer), line); err != nil {
		return fmt.Errorf("append alert from %s: %w", a.Peer, err)
	}
	return nil
}

// SaveConnections rewrites the connection table. Readers never observe a
// partially written file.
func (f *Files) SaveConnections(conns []models.Connection) error {
	var b strings.Builder
	for _, c := range conns {
		b.WriteString(c.IP)
		b.WriteString(fieldSep)
		b.WriteString(strconv.Itoa(c.Port))
		b.WriteString(fieldSep)
		b.WriteString(c.LastActive.Format(TimeLayout))
		b.WriteByte('\n')
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(f.dir, ".connections-*.tmp")
	if err != nil {
		return fmt.Errorf("save connections: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(b.String()); err != nil {
		tmp.Close()
		return fmt.Errorf("save connections: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("save connections: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save connections: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(f.dir, ConnectionsFile)); err != nil {
		return fmt.Errorf("save connections: %w", err)
	}
	return nil
}

// LoadConnections reads the connection table. A missing file is an empty
// table.
func (f *Files) LoadConnections() ([]models.Connection, error) {
	return ReadConnections(filepath.Join(f.dir, ConnectionsFile))
}

// ReadConnections parses a connection table file.
func ReadConnections(path string) ([]models.Connection, error) {
	file, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load connections: %w", err)
	}
	defer file.Close()

	var conns []models.Connection
	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		c, err := parseConnection(line)
		if err != nil {
			return nil, fmt.Errorf("load connections: line %d: %w", lineNo, err)
		}
		conns = append(conns, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("load connections: %w", err)
	}
	return conns, nil
}

func parseConnection(line string) (models.Connection, error) {
	parts := strings.Split(line, fieldSep)
	if len(parts) != 3 {
		return models.Connection{}, fmt.Errorf("expected ip|port|timestamp, got %q", line)
	}
	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 0 || port > 65535 {
		return models.Connection{}, fmt.Errorf("invalid port %q", parts[1])
	}
	ts, err := time.ParseInLocation(TimeLayout, parts[2], time.Local)
	if err != nil {
		return models.Connection{}, fmt.Errorf("invalid timestamp %q: %w", parts[2], err)
	}
	return models.Connection{IP: parts[0], Port: port, LastActive: ts}, nil
}

func (f *Files) line(at time.Time, peer, text string) string {
	if at.IsZero() {
		at = f.now()
	}
	return at.Format(TimeLayout) + fieldSep + peer + fieldSep + escapeText(text) + "\n"
}

func (f *Files) appendLine(path, line string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := file.WriteString(line); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

var textEscaper = strings.NewReplacer("\\", `\\`, "\r", `\r`, "\n", `\n`)

// escapeText keeps a record on a single line.
func escapeText(s string) string {
	return textEscaper.Replace(strings.TrimRight(s, "\r\n"))
}

// safeName maps an identifier to a file name that stays inside the
// storage directory.
func safeName(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, strings.ReplaceAll(s, "..", "__"))
}
