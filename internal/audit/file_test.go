package audit

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/price-sync-server/internal/status"
)

func TestFileSink_EmitAndRecent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", DefaultFileName)
	sink, err := NewFileSink(path)
	require.NoError(t, err)

	ctx := context.Background()
	for i := range 5 {
		require.NoError(t, sink.Emit(ctx, summary(fmt.Sprintf("run-%d", i))))
	}

	recent, total, err := sink.Recent(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, recent, 3)
	assert.Equal(t, "run-4", recent[0].RunID, "newest first")
	assert.Equal(t, "run-3", recent[1].RunID)
	assert.Equal(t, "run-2", recent[2].RunID)
	assert.Equal(t, 1, recent[0].Skipped)
	require.Len(t, recent[0].Results, 1)
	assert.Equal(t, "no-external-price", recent[0].Results[0].Reason)

	all, total, err := sink.Recent(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, all, 5)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 5, countLines(data), "one JSON line per run")
}

func TestFileSink_RecentMissingFile(t *testing.T) {
	t.Parallel()

	sink, err := NewFileSink(filepath.Join(t.TempDir(), DefaultFileName))
	require.NoError(t, err)

	recent, total, err := sink.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, recent)
	assert.Zero(t, total)
}

func TestFileSink_RecentSkipsCorruptLines(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), DefaultFileName)
	sink, err := NewFileSink(path)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, sink.Emit(ctx, summary("run-a")))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, sink.Emit(ctx, summary("run-b")))

	recent, total, err := sink.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, recent, 2)
	assert.Equal(t, "run-b", recent[0].RunID)
	assert.Equal(t, "run-a", recent[1].RunID)
}

func TestFileSink_RecentNonPositiveLimit(t *testing.T) {
	t.Parallel()

	sink, err := NewFileSink(filepath.Join(t.TempDir(), DefaultFileName))
	require.NoError(t, err)
	recent, _, err := sink.Recent(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestFileSink_ConcurrentEmit(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), DefaultFileName)
	sink, err := NewFileSink(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, sink.Emit(context.Background(), summary(fmt.Sprintf("run-%d", i))))
		}()
	}
	wg.Wait()

	recent, total, err := sink.Recent(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, 20, total)
	assert.Len(t, recent, 20, "no interleaved or torn lines")
}

func countLines(data []byte) int {
	n := 0
	for _, b := range data {
		if b == '\n' {
			n++
		}
	}
	return n
}

func TestFileSink_OversizedRecords(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), DefaultFileName)
	sink, err := NewFileSink(path)
	require.NoError(t, err)
	sink.maxRecord = 1024

	ctx := context.Background()
	require.NoError(t, sink.Emit(ctx, summary("run-a")))

	// a line written by another process that exceeds the limit
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	require.NoError(t, err)
	_, err = f.WriteString(`{"runId":"huge","error":"` + strings.Repeat("x", 4096) + "\"}\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	large := summary("run-b")
	for i := range 50 {
		large.Add(status.UpdateResult{VariantID: fmt.Sprintf("v-%d", i), OriginalSKU: "ZPB-LTM814"}.Skipped("no-external-price"))
	}
	require.NoError(t, sink.Emit(ctx, large))

	tooLarge := summary("run-c")
	tooLarge.Error = strings.Repeat("e", 2048)
	require.ErrorIs(t, sink.Emit(ctx, tooLarge), ErrRecordTooLarge)

	require.NoError(t, sink.Emit(ctx, summary("run-d")))

	recent, total, err := sink.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	require.Len(t, recent, 3)
	assert.Equal(t, "run-d", recent[0].RunID)
	assert.Equal(t, "run-b", recent[1].RunID)
	assert.True(t, recent[1].ResultsOmitted)
	assert.Empty(t, recent[1].Results)
	assert.Equal(t, 51, recent[1].Skipped, "counters survive trimming")
	assert.Equal(t, "run-a", recent[2].RunID)
	assert.False(t, recent[2].ResultsOmitted)
}

func TestReadLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		input         string
		limit         int
		wantLine      string
		wantOversized bool
		wantEOF       bool
	}{
		{name: "line with newline", input: "abc\nrest", limit: 8, wantLine: "abc"},
		{name: "last line without newline", input: "abc", limit: 8, wantLine: "abc", wantEOF: true},
		{name: "line at the limit", input: "12345678\n", limit: 8, wantLine: "12345678"},
		{name: "line over the limit", input: "123456789\nnext", limit: 8, wantOversized: true},
		{name: "unterminated line over the limit", input: "123456789", limit: 8, wantOversized: true, wantEOF: true},
		{name: "empty input", input: "", limit: 8, wantEOF: true},
		{
			name:     "line longer than the read buffer",
			input:    strings.Repeat("z", 40) + "\n",
			limit:    64,
			wantLine: strings.Repeat("z", 40),
		},
		{name: "oversized line longer than the read buffer", input: strings.Repeat("z", 40) + "\n", limit: 8, wantOversized: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			// the smallest bufio buffer forces multi-chunk reads
			r := bufio.NewReaderSize(strings.NewReader(tt.input), 16)
			line, oversized, err := readLine(r, nil, tt.limit)
			assert.Equal(t, tt.wantLine, string(line))
			assert.Equal(t, tt.wantOversized, oversized)
			if tt.wantEOF {
				assert.ErrorIs(t, err, io.EOF)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
