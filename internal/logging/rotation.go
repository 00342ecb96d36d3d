package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

const (
	defaultMaxSizeMB  = 20
	defaultMaxBackups = 2
)

// RotatingWriter appends to a log file and shifts it to numbered backups
// (path.1 is the newest) once maxSizeMB would be exceeded. Safe for
// concurrent use.
type RotatingWriter struct {
	mu         sync.Mutex
	path       string
	maxSize    int64
	maxBackups int

	file    *os.File
	info    os.FileInfo // identity of file when it was opened
	written int64
}

// NewRotatingWriter opens path for appending, creating its directory.
// Zero or negative limits select 20 MB and 2 backups.
func NewRotatingWriter(path string, maxSizeMB int, maxBackups int) (*RotatingWriter, error) {
	if maxSizeMB <= 0 {
		maxSizeMB = defaultMaxSizeMB
	}
	if maxBackups <= 0 {
		maxBackups = defaultMaxBackups
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	rw := &RotatingWriter{
		path:       path,
		maxSize:    int64(maxSizeMB) * 1024 * 1024,
		maxBackups: maxBackups,
	}
	if err := rw.open(); err != nil {
		return nil, err
	}
	return rw, nil
}

// Path returns the active log file path.
func (rw *RotatingWriter) Path() string { return rw.path }

func (rw *RotatingWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.file == nil {
		return 0, os.ErrClosed
	}
	if rw.written > 0 && rw.written+int64(len(p)) > rw.maxSize {
		if err := rw.rotate(); err != nil {
			return 0, fmt.Errorf("log rotation: %w", err)
		}
	}
	n, err := rw.file.Write(p)
	rw.written += int64(n)
	return n, err
}

// Reopen is the SIGHUP handler. When the file at path is no longer the one
// being written (an external tool moved or deleted it) a fresh file is
// opened at path. Otherwise it does nothing.
func (rw *RotatingWriter) Reopen() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.file != nil && rw.info != nil {
		if cur, err := os.Stat(rw.path); err == nil && os.SameFile(cur, rw.info) {
			return nil
		}
		rw.file.Close()
		rw.file = nil
	}
	return rw.open()
}

// Close closes the file. Later writes fail with os.ErrClosed.
func (rw *RotatingWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.file == nil {
		return nil
	}
	err := rw.file.Close()
	rw.file = nil
	return err
}

func (rw *RotatingWriter) open() error {
	f, err := os.OpenFile(rw.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	rw.file = f
	rw.info = info
	rw.written = info.Size()
	return nil
}

func (rw *RotatingWriter) rotate() error {
	if err := rw.file.Close(); err != nil {
		return err
	}
	rw.file = nil

	if err := removeIfExists(rw.backup(rw.maxBackups)); err != nil {
		return err
	}
	for i := rw.maxBackups - 1; i >= 0; i-- {
		if err := os.Rename(rw.backup(i), rw.backup(i+1)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return rw.open()
}

func (rw *RotatingWriter) backup(n int) string {
	if n == 0 {
		return rw.path
	}
	return fmt.Sprintf("%s.%d", rw.path, n)
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// TeeWriter writes every record to console and to file. A failing file
// (disk full, closed during shutdown) never suppresses console output, and
// only console errors are reported to the handler.
func TeeWriter(console, file io.Writer) io.Writer {
	return teeWriter{console: console, file: file}
}

type teeWriter struct {
	console io.Writer
	file    io.Writer
}

func (t teeWriter) Write(p []byte) (int, error) {
	_, _ = t.file.Write(p)
	return t.console.Write(p)
}
