// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package logging provides the optional save-log rolling file writer used
// by the CLI. Library packages never construct one of these themselves;
// they log through slog.Default().
package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// RollingWriter is an io.Writer that appends to a numbered log file and
// rotates to a new one, keeping at most maxFiles on disk. Each new file is
// built under a temporary name and renamed into place so a reader never
// observes a half-written file.
type RollingWriter struct {
	dir      string
	base     string
	maxFiles int

	cur *os.File
}

// NewRollingWriter opens (or creates) the rolling log at dir/base, pruning
// older numbered siblings beyond maxFiles.
func NewRollingWriter(dir, base string, maxFiles int) (*RollingWriter, error) {
	if maxFiles <= 0 {
		maxFiles = 1
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	w := &RollingWriter{dir: dir, base: base, maxFiles: maxFiles}
	if err := w.rotate(); err != nil {
		return nil, err
	}
	return w, nil
}

// Write implements io.Writer.
func (w *RollingWriter) Write(p []byte) (int, error) {
	return w.cur.Write(p)
}

// Close closes the current log file.
func (w *RollingWriter) Close() error {
	if w.cur == nil {
		return nil
	}
	return w.cur.Close()
}

// rotate closes the current file (if any), opens a new numbered log file,
// and prunes files beyond maxFiles. Each run gets its own file, matching
// "max-log-files" as a count of retained run-logs rather than a size-based
// split within one run.
func (w *RollingWriter) rotate() error {
	if w.cur != nil {
		if err := w.cur.Close(); err != nil {
			return err
		}
	}
	existing, err := w.existingIndexes()
	if err != nil {
		return err
	}
	next := 0
	for _, n := range existing {
		if n >= next {
			next = n + 1
		}
	}
	tmpPath := w.pathFor(next) + ".tmp"
	finalPath := w.pathFor(next)
	f, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		f.Close()
		return err
	}
	reopened, err := os.OpenFile(finalPath, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	f.Close()
	w.cur = reopened

	existing = append(existing, next)
	if len(existing) > w.maxFiles {
		for _, n := range existing[:len(existing)-w.maxFiles] {
			os.Remove(w.pathFor(n))
		}
	}
	return nil
}

func (w *RollingWriter) pathFor(n int) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s.%04d.log", w.base, n))
}

func (w *RollingWriter) existingIndexes() ([]int, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, err
	}
	var out []int
	prefix := w.base + "."
	for _, e := range entries {
		name := e.Name()
		if len(name) <= len(prefix) || name[:len(prefix)] != prefix {
			continue
		}
		var n int
		if _, err := fmt.Sscanf(name[len(prefix):], "%04d.log", &n); err == nil {
			out = append(out, n)
		}
	}
	return out, nil
}
