// Package completion writes the append-only record of migrated objects and
// reads it back as a skip-set for resumed runs.
//
// Every line is one JSON object produced by slog's JSON handler, e.g.
//
//	{"time":"...","level":"INFO","msg":"DONE","path":"/zone/home/x","run_id":"..."}
package completion

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Status is the marker written for one object.
type Status string

const (
	Done        Status = "DONE"
	Failed      Status = "ERROR"
	Republish   Status = "REPUBLISH"
	Redepublish Status = "REDEPUBLISH"
)

// Log appends completion records. It is safe for concurrent use.
type Log struct {
	logger *slog.Logger
	closer io.Closer
}

// New writes records to w, stamping each with runID.
func New(w io.Writer, runID string) *Log {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})
	return &Log{logger: slog.New(handler).With("run_id", runID)}
}

// Open appends to the file at path, creating it when needed.
func Open(path, runID string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open completion log: %w", err)
	}
	l := New(f, runID)
	l.closer = f
	return l, nil
}

// Done records that path was migrated completely.
func (l *Log) Done(path string) {
	l.write(slog.LevelInfo, Done, path)
}

// Error records a failure on path.
func (l *Log) Error(path, detail string) {
	l.write(slog.LevelError, Failed, path, "detail", detail)
}

// Advisory records a follow-up the operator has to perform on path.
func (l *Log) Advisory(status Status, path string) {
	l.write(slog.LevelWarn, status, path)
}

func (l *Log) write(level slog.Level, status Status, path string, args ...any) {
	l.logger.Log(context.Background(), level, string(status), append([]any{"path", path}, args...)...)
}

// Close closes the underlying file, if any.
func (l *Log) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// Set holds the paths recorded as done.
type Set map[string]struct{}

// Has reports whether path was completed.
func (s Set) Has(path string) bool {
	_, ok := s[path]
	return ok
}

type record struct {
	Msg  string `json:"msg"`
	Path string `json:"path"`
}

// Parse collects every DONE path from r. Lines that are not records are skipped.
func Parse(r io.Reader) (Set, error) {
	done := make(Set)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var rec record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		if rec.Msg == string(Done) && rec.Path != "" {
			done[rec.Path] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read completion log: %w", err)
	}
	return done, nil
}

// ParseFile reads the completion log at path.
func ParseFile(path string) (Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open resume log: %w", err)
	}
	defer f.Close()
	return Parse(f)
}
