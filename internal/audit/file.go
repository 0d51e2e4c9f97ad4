package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/stacklok/price-sync-server/internal/status"
)

const (
	// DefaultFileName is the default name of the JSON-lines audit file
	DefaultFileName = "price-sync-runs.jsonl"
	// maxRecordSize bounds one JSON line; large catalogs produce large records
	maxRecordSize = 64 * 1024 * 1024
)

// ErrRecordTooLarge is returned by Emit for a summary that exceeds the record
// size limit even without its per-item results
var ErrRecordTooLarge = errors.New("run summary exceeds audit record size limit")

// FileSink appends summaries to a JSON-lines file. Writers and readers in
// other processes are serialized with an advisory lock next to the file.
type FileSink struct {
	path string
	// mu serializes goroutines of this process; flock does not
	mu        sync.Mutex
	lock      *flock.Flock
	maxRecord int
}

// NewFileSink creates a FileSink writing to path, creating its directory
func NewFileSink(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	return &FileSink{
		path:      path,
		lock:      flock.New(path + ".lock"),
		maxRecord: maxRecordSize,
	}, nil
}

// Emit implements Sink. A summary too large for one record is stored with
// its counters only and ResultsOmitted set.
func (s *FileSink) Emit(_ context.Context, summary *status.RunSummary) error {
	line, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal run summary %s: %w", summary.RunID, err)
	}
	if len(line) > s.maxRecord {
		trimmed := *summary
		trimmed.Results = nil
		trimmed.ResultsOmitted = true
		if line, err = json.Marshal(&trimmed); err != nil {
			return fmt.Errorf("failed to marshal run summary %s: %w", summary.RunID, err)
		}
		if len(line) > s.maxRecord {
			return fmt.Errorf("run %s: %w", summary.RunID, ErrRecordTooLarge)
		}
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock audit file: %w", err)
	}
	defer func() {
		_ = s.lock.Unlock()
	}()

	// #nosec G304 - path comes from operator configuration
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open audit file: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to append run summary %s: %w", summary.RunID, err)
	}
	return f.Close()
}

// Recent returns up to limit of the most recent summaries, newest first,
// and the total number of records in the file. Lines that do not decode or
// exceed the record size limit are skipped.
func (s *FileSink) Recent(ctx context.Context, limit int) ([]status.RunSummary, int, error) {
	if limit <= 0 {
		return []status.RunSummary{}, 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lock.RLock(); err != nil {
		return nil, 0, fmt.Errorf("failed to lock audit file: %w", err)
	}
	defer func() {
		_ = s.lock.Unlock()
	}()

	// #nosec G304 - path comes from operator configuration
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []status.RunSummary{}, 0, nil
		}
		return nil, 0, fmt.Errorf("failed to open audit file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	// ring of the last `limit` raw lines; nil marks an oversized line
	ring := make([][]byte, limit)
	total := 0
	reader := bufio.NewReader(f)
	var buf []byte
	for {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		line, oversized, err := readLine(reader, buf, s.maxRecord)
		buf = line
		switch {
		case oversized:
			ring[total%limit] = nil
			total++
		case len(line) > 0:
			ring[total%limit] = append(ring[total%limit][:0], line...)
			total++
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("failed to read audit file: %w", err)
		}
	}

	n := min(total, limit)
	out := make([]status.RunSummary, 0, n)
	for i := 0; i < n; i++ {
		raw := ring[(total-1-i)%limit]
		if raw == nil {
			continue
		}
		var summary status.RunSummary
		if err := json.Unmarshal(raw, &summary); err != nil {
			continue
		}
		out = append(out, summary)
	}
	return out, total, nil
}

// readLine reads one line into buf without its newline. A line longer than
// limit is consumed but not kept, and reported as oversized.
func readLine(r *bufio.Reader, buf []byte, limit int) ([]byte, bool, error) {
	buf = buf[:0]
	oversized := false
	for {
		chunk, err := r.ReadSlice('\n')
		if !oversized {
			buf = append(buf, chunk...)
			if len(buf) > limit+1 {
				oversized = true
				buf = buf[:0]
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		line := bytes.TrimSuffix(buf, []byte{'\n'})
		if !oversized && len(line) > limit {
			return buf[:0], true, err
		}
		return line, oversized, err
	}
}
