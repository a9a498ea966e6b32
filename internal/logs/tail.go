package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"specforge/internal/config"
	"specforge/internal/logging"
)

// FileName is the daemon log file inside the configured log directory.
const FileName = logging.FileName

const maxLineBytes = 1024 * 1024

// Path returns the daemon log file for cfg.
func Path(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.LogDir, FileName)
}

// Filter selects lines. An empty filter matches everything.
type Filter struct {
	Contains string
	Level    string
}

// Match reports whether line passes the filter. Level matching is a
// case-insensitive substring test, which covers both console and JSON output.
func (f Filter) Match(line string) bool {
	if f.Contains != "" && !strings.Contains(line, f.Contains) {
		return false
	}
	if f.Level != "" && !strings.Contains(strings.ToUpper(line), strings.ToUpper(f.Level)) {
		return false
	}
	return true
}

// Chunk is a batch of lines plus the byte offset just past them.
type Chunk struct {
	Lines  []string
	Offset int64
}

// Last returns up to n matching lines from the end of path. A missing file
// yields an empty chunk at offset zero.
func Last(path string, n int, filter Filter) (Chunk, error) {
	file, err := openLog(path)
	if err != nil || file == nil {
		return Chunk{}, err
	}
	defer file.Close()

	var ring []string
	if n > 0 {
		ring = make([]string, 0, n)
	}
	scanner := newScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if n <= 0 || !filter.Match(line) {
			continue
		}
		if len(ring) == n {
			ring = append(ring[:0], ring[1:]...)
		}
		ring = append(ring, line)
	}
	if err := scanner.Err(); err != nil {
		return Chunk{}, fmt.Errorf("read log file: %w", err)
	}
	offset, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return Chunk{}, fmt.Errorf("seek log file: %w", err)
	}
	return Chunk{Lines: ring, Offset: offset}, nil
}

// ReadFrom returns the complete matching lines written after offset. An offset
// past the end of the file, as after truncation, restarts from zero.
func ReadFrom(path string, offset int64, filter Filter) (Chunk, error) {
	file, err := openLog(path)
	if err != nil || file == nil {
		return Chunk{}, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return Chunk{Offset: offset}, fmt.Errorf("stat log file: %w", err)
	}
	if offset < 0 || offset > info.Size() {
		offset = 0
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return Chunk{Offset: offset}, fmt.Errorf("seek log file: %w", err)
	}

	chunk := Chunk{Offset: offset}
	reader := bufio.NewReaderSize(file, 64*1024)
	for {
		line, err := reader.ReadString('\n')
		if errors.Is(err, io.EOF) {
			// Partial lines stay unread until their newline arrives.
			return chunk, nil
		}
		if err != nil {
			return chunk, fmt.Errorf("read log file: %w", err)
		}
		chunk.Offset += int64(len(line))
		line = strings.TrimRight(line, "\r\n")
		if filter.Match(line) {
			chunk.Lines = append(chunk.Lines, line)
		}
	}
}

// Follow polls path from offset and calls emit for each new matching line. It
// returns nil when ctx is cancelled.
func Follow(ctx context.Context, path string, offset int64, interval time.Duration, filter Filter, emit func(string)) error {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		chunk, err := ReadFrom(path, offset, filter)
		if err != nil {
			return err
		}
		for _, line := range chunk.Lines {
			emit(line)
		}
		offset = chunk.Offset
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func openLog(path string) (*os.File, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		file.Close()
		return nil, fmt.Errorf("log path %q is a directory", path)
	}
	return file, nil
}

func newScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return scanner
}
