// Package errlog provides a dedicated error-only log file.
//
// Features:
//   - Implements zapcore.WriteSyncer so it can sit behind an ERROR-level core
//   - Automatic rotation when the file exceeds the configured size
//   - Rotated logs are gzip-compressed to save disk space
//   - Retains up to maxBackups compressed archives
//   - Thread-safe: all operations are protected by a mutex
package errlog

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	// FileName is the active log file inside the log directory.
	FileName = "error.log"

	// DefaultRotationSize is the threshold in bytes before rotation.
	DefaultRotationSize = 10 << 20
	// maxBackups is the number of compressed archives to keep.
	maxBackups = 5

	archivePrefix = "error-"
	archiveSuffix = ".log.gz"
)

// Writer is a size-rotated, append-only log file.
type Writer struct {
	mu         sync.Mutex
	file       *os.File
	dir        string
	path       string
	size       int64
	maxRotSize int64
	closed     bool
	now        func() time.Time
}

// Open creates dir if needed and opens <dir>/error.log for appending.
// rotationSize <= 0 means DefaultRotationSize.
func Open(dir string, rotationSize int64) (*Writer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create error log directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, FileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open error log file %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat error log file: %w", err)
	}

	if rotationSize <= 0 {
		rotationSize = DefaultRotationSize
	}
	return &Writer{
		file:       f,
		dir:        dir,
		path:       path,
		size:       info.Size(),
		maxRotSize: rotationSize,
		now:        time.Now,
	}, nil
}

// Write appends p and rotates once the file reaches the threshold.
// Writes after Close are dropped.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || w.file == nil {
		return len(p), nil
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	if err != nil {
		return n, err
	}

	if w.size >= w.maxRotSize {
		w.rotate()
	}
	return n, nil
}

// Sync flushes the active file.
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Sync()
}

// Close syncs and closes the file. Safe to call more than once.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.closed = true
	if w.file == nil {
		return nil
	}
	w.file.Sync()
	err := w.file.Close()
	w.file = nil
	return err
}

// Path returns the active log file.
func (w *Writer) Path() string { return w.path }

// RotationSize returns the threshold in bytes.
func (w *Writer) RotationSize() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.maxRotSize
}

// rotate compresses the current log file and opens a fresh one.
// Caller must hold w.mu.
func (w *Writer) rotate() {
	w.file.Sync()
	w.file.Close()
	w.file = nil

	// error-20260219-153045.000.log.gz
	ts := w.now().Format("20060102-150405.000")
	archivePath := filepath.Join(w.dir, archivePrefix+ts+archiveSuffix)

	// Truncate even when compression fails so the file cannot grow unbounded.
	compressFile(w.path, archivePath)
	os.Truncate(w.path, 0)

	w.pruneArchives()

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		// Cannot reopen; further writes are dropped.
		return
	}
	w.file = f
	w.size = 0
}

// pruneArchives removes the oldest compressed archives beyond maxBackups.
// Caller must hold w.mu.
func (w *Writer) pruneArchives() {
	archives, err := listArchives(w.dir)
	if err != nil || len(archives) <= maxBackups {
		return
	}
	for _, name := range archives[:len(archives)-maxBackups] {
		os.Remove(filepath.Join(w.dir, name))
	}
}

// compressFile writes a gzip copy of src to dst. On failure the partial dst
// file is removed.
func compressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	gw, err := gzip.NewWriterLevel(out, gzip.BestSpeed)
	if err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}

	if _, err := io.Copy(gw, in); err != nil {
		gw.Close()
		out.Close()
		os.Remove(dst)
		return err
	}

	// Must close gzip writer before the file to flush the footer.
	if err := gw.Close(); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return nil
}

// RecentLines reads the last n lines of the active file, oldest first.
func (w *Writer) RecentLines(n int) ([]string, error) {
	if n <= 0 {
		n = 50
	}
	f, err := os.Open(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()
	if size == 0 {
		return []string{}, nil
	}

	// Long lines are tolerated up to this much trailing data.
	const maxRead = 256 * 1024
	readStart := int64(0)
	if size > maxRead {
		readStart = size - maxRead
	}

	buf := make([]byte, size-readStart)
	if _, err := f.ReadAt(buf, readStart); err != nil && err != io.EOF {
		return nil, err
	}

	lines := make([]string, 0, n)
	end := len(buf)
	if end > 0 && buf[end-1] == '\n' {
		end--
	}
	for i := end - 1; i >= 0 && len(lines) < n; i-- {
		if buf[i] == '\n' {
			if line := string(buf[i+1 : end]); line != "" {
				lines = append(lines, line)
			}
			end = i
		}
	}
	if len(lines) < n && end > 0 {
		if line := string(buf[:end]); line != "" {
			lines = append(lines, line)
		}
	}

	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return lines, nil
}

// Archives returns the compressed archive names, oldest first.
func (w *Writer) Archives() ([]string, error) {
	return listArchives(w.dir)
}

func listArchives(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}
	archives := []string{}
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, archivePrefix) && strings.HasSuffix(name, archiveSuffix) {
			archives = append(archives, name)
		}
	}
	// Timestamps in the name sort chronologically.
	sort.Strings(archives)
	return archives, nil
}
