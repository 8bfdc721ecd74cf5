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

package inputs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"
)

func TestResolver_ResolvePathNotFound(t *testing.T) {
	r := NewResolver(t.TempDir(), NewLockFile(), nil)
	_, err := r.Resolve(context.Background(), "dep", "path:/does/not/exist/anywhere", UpdateMode{})
	var notFound *ErrInputNotFound
	require.ErrorAs(t, err, &notFound)
}

func TestResolver_ResolvePathIsContentAddressedAndDeterministic(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("hello"), 0o644))

	r := NewResolver(t.TempDir(), NewLockFile(), nil)
	first, err := r.Resolve(context.Background(), "dep", "path:"+src, UpdateMode{})
	require.NoError(t, err)
	require.Equal(t, src, first.LocalPath)
	require.NotEmpty(t, first.SourceHash)

	second, err := r.Resolve(context.Background(), "dep", "path:"+src, UpdateMode{})
	require.NoError(t, err)
	require.Equal(t, first.SourceHash, second.SourceHash, "identical content must hash identically")

	require.Equal(t, "path", r.Lock.Entries["dep"].Kind)
}

func TestResolver_ResolvePathHashChangesWithContent(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("hello"), 0o644))

	r := NewResolver(t.TempDir(), NewLockFile(), nil)
	first, err := r.Resolve(context.Background(), "dep", "path:"+src, UpdateMode{})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("goodbye"), 0o644))
	second, err := r.Resolve(context.Background(), "dep", "path:"+src, UpdateMode{})
	require.NoError(t, err)

	require.NotEqual(t, first.SourceHash, second.SourceHash)
}

func TestResolver_UnrecognizedSchemeFails(t *testing.T) {
	r := NewResolver(t.TempDir(), NewLockFile(), nil)
	_, err := r.Resolve(context.Background(), "dep", "ftp://example.com/x", UpdateMode{})
	require.Error(t, err)
}

func initGitRepo(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.txt"), []byte(content), 0o644))
	_, err = wt.Add("f.txt")
	require.NoError(t, err)
	_, err = wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com"},
	})
	require.NoError(t, err)
	return dir
}

func TestResolver_ResolveGitClonesAndLocksRevision(t *testing.T) {
	origin := initGitRepo(t, "v1")
	r := NewResolver(t.TempDir(), NewLockFile(), nil)

	resolved, err := r.Resolve(context.Background(), "dep", "git:file://"+origin, UpdateMode{})
	require.NoError(t, err)
	require.DirExists(t, resolved.LocalPath)

	content, err := os.ReadFile(filepath.Join(resolved.LocalPath, "f.txt"))
	require.NoError(t, err)
	require.Equal(t, "v1", string(content))

	entry := r.Lock.Entries["dep"]
	require.Equal(t, "git", entry.Kind)
	require.NotEmpty(t, entry.Rev)
}

func TestResolver_ResolveGitReusesLockWhenUnchanged(t *testing.T) {
	origin := initGitRepo(t, "v1")
	lf := NewLockFile()
	r := NewResolver(t.TempDir(), lf, nil)

	first, err := r.Resolve(context.Background(), "dep", "git:file://"+origin, UpdateMode{})
	require.NoError(t, err)

	second, err := r.Resolve(context.Background(), "dep", "git:file://"+origin, UpdateMode{})
	require.NoError(t, err)
	require.Equal(t, first.LocalPath, second.LocalPath)
	require.Equal(t, first.SourceHash, second.SourceHash)
}
