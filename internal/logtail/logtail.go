package logtail

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
)

// tailWindow bounds how much of a long log is scanned. Lines older than the
// last tailWindow bytes are never returned.
const tailWindow = 512 * 1024

// Read returns at most maxLines non-empty lines from the end of the file at
// path. A missing file yields no lines and no error.
func Read(path string, maxLines int) ([]string, error) {
	if maxLines <= 0 {
		return nil, nil
	}
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open log: %w", err)
	}
	defer file.Close()

	partial, err := seekTail(file)
	if err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var lines []string
	for scanner.Scan() {
		if partial {
			partial = false
			continue
		}
		line := scanner.Text()
		if line == "" {
			continue
		}
		if len(lines) == maxLines {
			lines = append(lines[:0], lines[1:]...)
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	return lines, nil
}

// seekTail positions f at the start of the tail window. It reports whether
// the first line read will be a fragment.
func seekTail(f *os.File) (bool, error) {
	info, err := f.Stat()
	if err != nil {
		return false, fmt.Errorf("stat log: %w", err)
	}
	if info.Size() <= tailWindow {
		return false, nil
	}
	if _, err := f.Seek(info.Size()-tailWindow, io.SeekStart); err != nil {
		return false, fmt.Errorf("seek log: %w", err)
	}
	return true, nil
}
