// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package commit reads baselines and writes apply results to disk.
//
// Writes are optimistic: the file is re-read and its SHA-256 compared with
// the text the caller believes is on disk before anything is replaced. The
// replacement itself is a temp file in the same directory, fsynced and
// renamed over the target, so readers never see a half-written file.
package commit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrConflict indicates the file changed since it was read.
	ErrConflict = errors.New("file was modified since it was read")

	// ErrPathEscapes indicates a path outside the configured root.
	ErrPathEscapes = errors.New("path escapes the workspace root")

	// ErrReadTimeout indicates the baseline read did not finish in time.
	ErrReadTimeout = errors.New("baseline read timed out")

	// ErrUnsupportedURI indicates a URI scheme other than file.
	ErrUnsupportedURI = errors.New("unsupported uri scheme")
)

// ConflictError carries the hashes of a failed verification.
type ConflictError struct {
	Path     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %v (expected sha256 %s, found %s)", e.Path, ErrConflict, short(e.Expected), short(e.Actual))
}

// Unwrap returns ErrConflict.
func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// Config configures a Committer.
type Config struct {
	// Root confines every path. Empty disables the check.
	Root string

	// Backups keeps the previous content as <path>.orig before replacing it.
	Backups bool

	// BaselineTimeout bounds Read. 0 means no bound beyond ctx.
	BaselineTimeout time.Duration

	// FileMode is used for new files. Default 0644.
	FileMode fs.FileMode
}

// Committer performs verified atomic writes inside a root.
//
// # Thread Safety
//
// Safe for concurrent use on distinct paths. Callers serialise writes to the
// same path; the hash check only narrows the race with external writers.
type Committer struct {
	root     string
	resolved string // root with symlinks resolved
	backups  bool
	timeout  time.Duration
	mode     fs.FileMode
}

// New creates a Committer.
func New(cfg Config) (*Committer, error) {
	c := &Committer{
		backups: cfg.Backups,
		timeout: cfg.BaselineTimeout,
		mode:    cfg.FileMode,
	}
	if c.mode == 0 {
		c.mode = 0o644
	}
	if cfg.Root != "" {
		abs, err := filepath.Abs(cfg.Root)
		if err != nil {
			return nil, fmt.Errorf("resolving root %s: %w", cfg.Root, err)
		}
		c.root = abs
		c.resolved = abs
		if resolved, err := filepath.EvalSymlinks(abs); err == nil {
			c.resolved = resolved
		}
	}
	return c, nil
}

// Root returns the absolute root, or "" when unconfined.
func (c *Committer) Root() string {
	return c.root
}

// Resolve maps a file URI or a path to an absolute path and a path relative
// to the root.
//
// # Inputs
//
//   - ref: "file:///abs/path", an absolute path, or a path relative to the
//     root (or to the working directory when there is no root).
//
// # Outputs
//
//   - path: Absolute, cleaned path.
//   - rel: Path relative to the root with forward slashes; the base name
//     when there is no root.
//   - error: ErrUnsupportedURI or ErrPathEscapes.
func (c *Committer) Resolve(ref string) (path, rel string, err error) {
	if strings.Contains(ref, "://") {
		u, perr := url.Parse(ref)
		if perr != nil {
			return "", "", fmt.Errorf("parsing uri %s: %w", ref, perr)
		}
		if u.Scheme != "file" {
			return "", "", fmt.Errorf("%w: %s", ErrUnsupportedURI, u.Scheme)
		}
		ref = filepath.FromSlash(u.Path)
	}

	if !filepath.IsAbs(ref) && c.root != "" {
		ref = filepath.Join(c.root, ref)
	}
	path, err = filepath.Abs(ref)
	if err != nil {
		return "", "", fmt.Errorf("resolving path %s: %w", ref, err)
	}

	if c.root == "" {
		return path, filepath.Base(path), nil
	}
	r, ok := within(c.root, path)
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrPathEscapes, path)
	}
	if err := c.checkLinks(path); err != nil {
		return "", "", err
	}
	return path, filepath.ToSlash(r), nil
}

// URI returns the file URI of an absolute path.
func URI(path string) string {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	if !strings.HasPrefix(u.Path, "/") {
		u.Path = "/" + u.Path
	}
	return u.String()
}

// Read returns the content of path.
//
// # Description
//
// The read runs under ctx and the configured baseline timeout. A missing
// file is reported with an error matching fs.ErrNotExist.
//
// # Outputs
//
//   - string: File content.
//   - error: ErrReadTimeout, ctx.Err(), ErrPathEscapes or an I/O error.
func (c *Committer) Read(ctx context.Context, path string) (string, error) {
	if err := c.check(path); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := os.ReadFile(path)
		ch <- result{data, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return "", fmt.Errorf("reading %s: %w", path, r.err)
		}
		return string(r.data), nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %s", ErrReadTimeout, path)
		}
		return "", ctx.Err()
	}
}

// Write replaces the content of path with after if it still equals before.
//
// # Description
//
// The current content is re-read and its SHA-256 compared with that of
// before. A missing file counts as empty content, so a file can be created
// by passing before == "". On a match the new content is written to a temp
// file in the same directory, fsynced, given the mode of the file it
// replaces and renamed over it.
//
// # Inputs
//
//   - ctx: Checked once before the rename; after that the write is final.
//   - path: Absolute path inside the root.
//   - before: The text the caller expects on disk.
//   - after: The text to write.
//
// # Outputs
//
//   - error: *ConflictError, ErrPathEscapes, ctx.Err() or an I/O error.
func (c *Committer) Write(ctx context.Context, path, before, after string) error {
	if err := c.check(path); err != nil {
		return err
	}

	current, mode, existed, err := readCurrent(path, c.mode)
	if err != nil {
		return err
	}
	if want, got := Hash(before), Hash(current); want != got {
		return &ConflictError{Path: path, Expected: want, Actual: got}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if c.backups && existed {
		if err := atomicWriteFile(path+".orig", []byte(current), mode); err != nil {
			return fmt.Errorf("writing backup: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	return atomicWriteFile(path, []byte(after), mode)
}

// Hash returns the hex SHA-256 of s.
func Hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func (c *Committer) check(path string) error {
	if c.root == "" {
		return nil
	}
	if _, ok := within(c.root, filepath.Clean(path)); !ok || !filepath.IsAbs(path) {
		return fmt.Errorf("%w: %s", ErrPathEscapes, path)
	}
	return c.checkLinks(path)
}

// checkLinks rejects paths that leave the root through a symlink.
func (c *Committer) checkLinks(path string) error {
	resolved, err := realPath(path)
	if err != nil {
		return fmt.Errorf("resolving symlinks in %s: %w", path, err)
	}
	if _, ok := within(c.resolved, resolved); !ok {
		return fmt.Errorf("%w: %s resolves to %s", ErrPathEscapes, path, resolved)
	}
	return nil
}

// within returns path relative to root when it does not climb out of it.
func within(root, path string) (string, bool) {
	r, err := filepath.Rel(root, path)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", false
	}
	return r, true
}

// realPath resolves symlinks in path. Components that do not exist yet are
// kept as they are below their closest existing ancestor.
func realPath(path string) (string, error) {
	var missing []string
	for p := path; ; {
		resolved, err := filepath.EvalSymlinks(p)
		if err == nil {
			return filepath.Join(append([]string{resolved}, missing...)...), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(p)
		if parent == p {
			return path, nil
		}
		missing = append([]string{filepath.Base(p)}, missing...)
		p = parent
	}
}

func readCurrent(path string, defMode fs.FileMode) (content string, mode fs.FileMode, existed bool, err error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", defMode, false, nil
	}
	if err != nil {
		return "", 0, false, fmt.Errorf("stat %s: %w", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", 0, false, fmt.Errorf("re-reading file for verification: %w", err)
	}
	return string(data), info.Mode().Perm(), true, nil
}

// atomicWriteFile writes content to a temp file next to path and renames it
// into place.
func atomicWriteFile(path string, content []byte, perm fs.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".editkit-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("writing content: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing to disk: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming into place: %w", err)
	}

	success = true
	return nil
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
