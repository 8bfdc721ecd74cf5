// Anvil is a declarative, content-addressed configuration manager.
// Copyright (C) 2026 The Anvil Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package sandbox gives a realizing build the primitives its action
// sequence needs: fetch-with-checksum, archive extraction, file writes,
// and sandboxed command execution. One Context is created per build and
// reused across its whole action sequence, so writes from one action are
// visible to the next through the filesystem.
package sandbox

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// SourceDateEpoch is pinned into every Cmd invocation for reproducibility.
const SourceDateEpoch = "315532800"

// PathSentinel is the nonexistent PATH value sandboxed commands see, so a
// build that forgot to declare a dependency fails loudly instead of
// silently picking up whatever happens to be on the host PATH.
const PathSentinel = "/path-not-set"

// HomeSentinel is the nonexistent HOME value sandboxed commands see.
const HomeSentinel = "/home-not-set"

// HashMismatch is returned by FetchURL when the downloaded body's SHA-256
// does not match the action's declared checksum.
type HashMismatch struct {
	URL      string
	Expected string
	Actual   string
}

func (e *HashMismatch) Error() string {
	return fmt.Sprintf("fetch %s: sha256 mismatch: expected %s, got %s", e.URL, e.Expected, e.Actual)
}

// CmdFailed is returned when a sandboxed command exits nonzero.
type CmdFailed struct {
	Cmd    string
	Args   []string
	Code   int
	Stderr string
}

func (e *CmdFailed) Error() string {
	msg := fmt.Sprintf("cmd %s exited %d", e.Cmd, e.Code)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// Context is the per-build execution environment: the output directory
// the build's actions populate and the scratch directory used for
// intermediate files (downloads, archive staging).
type Context struct {
	// OutDir is $out: the directory promoted into the store on success.
	OutDir string
	// TmpDir is the build's private scratch space, discarded after the
	// build finishes (whether it succeeds or fails).
	TmpDir string
}

// NewContext creates the output and scratch directories for a build and
// returns a Context pointing at them.
func NewContext(outDir, tmpDir string) (*Context, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create build output dir: %w", err)
	}
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("create build scratch dir: %w", err)
	}
	return &Context{OutDir: outDir, TmpDir: tmpDir}, nil
}

// resolvePath joins a build-relative path against OutDir, rejecting
// attempts to escape it.
func (c *Context) resolvePath(rel string) (string, error) {
	joined := filepath.Join(c.OutDir, rel)
	if joined != c.OutDir && !filepathHasPrefix(joined, c.OutDir) {
		return "", fmt.Errorf("path %q escapes build output directory", rel)
	}
	return joined, nil
}

func filepathHasPrefix(path, prefix string) bool {
	rel, err := filepath.Rel(prefix, path)
	if err != nil {
		return false
	}
	return rel != ".." && !hasDotDotPrefix(rel)
}

func hasDotDotPrefix(rel string) bool {
	return len(rel) >= 2 && rel[0] == '.' && rel[1] == '.' &&
		(len(rel) == 2 || rel[2] == filepath.Separator)
}

// WriteFile creates path (relative to OutDir) with content, applying mode
// on POSIX and ignoring it elsewhere.
func (c *Context) WriteFile(path string, content []byte, mode *fs.FileMode) error {
	target, err := c.resolvePath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("write_file %s: mkdir parent: %w", path, err)
	}
	perm := fs.FileMode(0o644)
	if mode != nil {
		perm = *mode
	}
	if err := os.WriteFile(target, content, perm); err != nil {
		return fmt.Errorf("write_file %s: %w", path, err)
	}
	applyMode(target, mode)
	return nil
}
