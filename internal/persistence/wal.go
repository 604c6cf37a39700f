// Package persistence implements the Persistence seam the Buffer Manager
// drains into: a primary Postgres write path with a WAL-Lite fallback, and a
// background loop that replays the WAL back into Postgres once it recovers.
package persistence

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	shared "plandex-shared"
)

const (
	defaultWALPath   = "/app/data/tokens.wal"
	maxWALFileBytes  = 100 * 1024 * 1024 // 100 MiB
	quarantineSuffix = ".corrupt"
)

// WALHandler owns the single append-only WAL file: one JSON line per Token,
// rotated to wal-<UTC timestamp>.bak once it reaches 100 MiB.
type WALHandler struct {
	mu   sync.Mutex
	path string

	totalWrites        int
	totalTokensWritten int
	totalRotations     int
	lastWriteTime      time.Time
}

// NewWALHandler creates a handler for path, defaulting to /app/data/tokens.wal
// and ensuring its parent directory exists.
func NewWALHandler(path string) (*WALHandler, error) {
	if path == "" {
		path = defaultWALPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating WAL directory: %w", err)
	}
	return &WALHandler{path: path}, nil
}

// WriteBatch appends tokens to the WAL as JSON lines, rotating the file
// first if it has crossed the 100 MiB threshold.
func (w *WALHandler) WriteBatch(tokens []shared.Token) error {
	if len(tokens) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.rotateIfNeededLocked(); err != nil {
		return err
	}

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		if isDiskFullErr(err) {
			return &DiskFullError{Path: w.path, Cause: err}
		}
		return fmt.Errorf("opening WAL file: %w", err)
	}
	defer f.Close()

	writer := bufio.NewWriterSize(f, 1<<20) // 1 MiB buffer, per FSD
	for _, tok := range tokens {
		line, err := json.Marshal(tok.ToWALRecord())
		if err != nil {
			return fmt.Errorf("encoding WAL record: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			if isDiskFullErr(err) {
				return &DiskFullError{Path: w.path, Cause: err}
			}
			return fmt.Errorf("writing WAL line: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("writing WAL newline: %w", err)
		}
	}
	if err := writer.Flush(); err != nil {
		if isDiskFullErr(err) {
			return &DiskFullError{Path: w.path, Cause: err}
		}
		return fmt.Errorf("flushing WAL buffer: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing WAL file: %w", err)
	}

	w.totalWrites++
	w.totalTokensWritten += len(tokens)
	w.lastWriteTime = time.Now()
	return nil
}

func (w *WALHandler) rotateIfNeededLocked() error {
	info, err := os.Stat(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("checking WAL file size: %w", err)
	}
	if info.Size() < maxWALFileBytes {
		return nil
	}

	backupName := fmt.Sprintf("wal-%s.bak", time.Now().UTC().Format("20060102150405"))
	backupPath := filepath.Join(filepath.Dir(w.path), backupName)
	if err := os.Rename(w.path, backupPath); err != nil {
		return fmt.Errorf("rotating WAL file: %w", err)
	}
	w.totalRotations++
	log.Printf("[WALHandler] rotated %s -> %s", w.path, backupName)
	return nil
}

// ReadLines returns every non-empty line currently in the WAL file, in
// order. Returns an empty slice if the file doesn't exist.
func (w *WALHandler) ReadLines() ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.Open(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening WAL file for read: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading WAL file: %w", err)
	}
	return lines, nil
}

// ParseLine decodes one WAL line into a Token. A malformed line is a
// corruption event, not a recoverable error — callers must quarantine the
// file rather than skip or truncate (see DESIGN.md's WAL open-question
// resolution: no silent data loss).
func ParseLine(line string) (shared.Token, error) {
	var rec shared.WALRecord
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		return shared.Token{}, &WALCorruptionError{Line: line, Cause: err}
	}
	tok, err := rec.ToToken()
	if err != nil {
		return shared.Token{}, &WALCorruptionError{Line: line, Cause: err}
	}
	return tok, nil
}

// Quarantine renames the WAL file aside with a .corrupt suffix so replay
// never touches it again and an operator can inspect it by hand.
func (w *WALHandler) Quarantine() (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := os.Stat(w.path); err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	dest := w.path + quarantineSuffix + "." + time.Now().UTC().Format("20060102150405")
	log.Printf("[WALHandler] quarantining handler state: %s", spew.Sdump(struct {
		Path           string
		TotalWrites    int
		TotalRotations int
	}{w.path, w.totalWrites, w.totalRotations}))
	if err := os.Rename(w.path, dest); err != nil {
		return "", fmt.Errorf("quarantining WAL file: %w", err)
	}
	log.Printf("[WALHandler] quarantined corrupt WAL file to %s", dest)
	return dest, nil
}

// Truncate deletes the WAL file after a successful full replay.
func (w *WALHandler) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.Remove(w.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("truncating WAL file: %w", err)
	}
	return nil
}

// FileSizeBytes returns the current WAL file size, or 0 if it doesn't exist.
func (w *WALHandler) FileSizeBytes() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	info, err := os.Stat(w.path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// Status is a point-in-time snapshot for monitoring.
type WALStatus struct {
	Path               string
	FileSizeBytes      int64
	TotalWrites        int
	TotalTokensWritten int
	TotalRotations     int
	LastWriteTime      time.Time
}

func (w *WALHandler) Status() WALStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	info, _ := os.Stat(w.path)
	var size int64
	if info != nil {
		size = info.Size()
	}
	return WALStatus{
		Path:               w.path,
		FileSizeBytes:      size,
		TotalWrites:        w.totalWrites,
		TotalTokensWritten: w.totalTokensWritten,
		TotalRotations:     w.totalRotations,
		LastWriteTime:      w.lastWriteTime,
	}
}

func isDiskFullErr(err error) bool {
	return strings.Contains(err.Error(), "no space left on device")
}
