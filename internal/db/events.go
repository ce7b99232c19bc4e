package db

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/adamavenir/murmur/internal/logger"
	"github.com/adamavenir/murmur/internal/types"
)

// appendEvent writes one event line to the shared log.
func appendEvent(path string, ev types.Event) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return atomicAppend(path, data)
}

func atomicAppend(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		return err
	}
	defer syscall.Flock(int(f.Fd()), syscall.LOCK_UN)

	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}

	return f.Sync()
}

func readJSONLLines(filePath string) ([]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	truncated := false
	if info, err := file.Stat(); err == nil && info.Size() > 0 {
		buf := make([]byte, 1)
		if _, err := file.ReadAt(buf, info.Size()-1); err == nil {
			truncated = buf[0] != '\n'
		}
	}

	scanner := bufio.NewScanner(file)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	var lines []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if truncated && len(lines) > 0 {
		logger.Warn("truncated JSONL line skipped", "path", filePath)
		lines = lines[:len(lines)-1]
	}
	return lines, nil
}

// readEvents returns every well-formed event in the log.
func readEvents(path string) ([]types.Event, error) {
	lines, err := readJSONLLines(path)
	if err != nil {
		return nil, err
	}
	events := make([]types.Event, 0, len(lines))
	for i, line := range lines {
		var ev types.Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			logger.Warn("skipping malformed event", "path", path, "line", i+1, "err", err)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// tailReader reads events appended since the last call.
type tailReader struct {
	path    string
	offset  int64
	partial []byte
}

// newTailReader starts at the current end of the log.
func newTailReader(path string) *tailReader {
	t := &tailReader{path: path}
	if info, err := os.Stat(path); err == nil {
		t.offset = info.Size()
	}
	return t
}

func (t *tailReader) next() ([]types.Event, error) {
	f, err := os.Open(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() < t.offset {
		t.offset = 0
		t.partial = nil
	}
	if info.Size() == t.offset {
		return nil, nil
	}
	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}

	start := t.offset - int64(len(t.partial))
	t.offset += int64(len(data))
	data = append(t.partial, data...)
	t.partial = nil

	var events []types.Event
	for len(data) > 0 {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			t.partial = append([]byte(nil), data...)
			break
		}
		line := bytes.TrimSpace(data[:idx])
		lineStart := start
		start += int64(idx + 1)
		data = data[idx+1:]
		if len(line) == 0 {
			continue
		}
		var ev types.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			logger.Warn("skipping malformed event", "path", t.path, "offset", lineStart, "err", err)
			continue
		}
		ev.Offset = lineStart
		events = append(events, ev)
	}
	return events, nil
}

func logMtime(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.ModTime().UnixMilli()
}

func touchDatabaseFile(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	now := time.Now()
	_ = os.Chtimes(path, now, now)
}
