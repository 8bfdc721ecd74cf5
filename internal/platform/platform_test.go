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

package platform

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"anvil/pkg/actions"
)

func TestDefaultInfo_StoreRoots(t *testing.T) {
	info := Default()

	user, err := info.UserStoreRoot()
	require.NoError(t, err)
	require.NotEmpty(t, user)

	system, err := info.SystemStoreRoot()
	require.NoError(t, err)
	require.NotEmpty(t, system)
	require.NotEqual(t, user, system)
}

func TestCreateLink_Symlink(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello"), 0o644))

	dst := filepath.Join(dir, "nested", "dst.txt")
	require.NoError(t, CreateLink(src, dst, actions.LinkSymlink))

	target, err := os.Readlink(dst)
	require.NoError(t, err)
	require.Equal(t, src, target)
}

func TestCreateLink_Copy(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello"), 0o644))

	dst := filepath.Join(dir, "dst.txt")
	require.NoError(t, CreateLink(src, dst, actions.LinkCopy))

	content, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "hello", string(content))

	info, err := os.Lstat(dst)
	require.NoError(t, err)
	require.Zero(t, info.Mode()&os.ModeSymlink)
}

func TestCreateLink_ReplacesExisting(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	require.NoError(t, os.WriteFile(src, []byte("v2"), 0o644))

	dst := filepath.Join(dir, "dst.txt")
	require.NoError(t, os.WriteFile(dst, []byte("stale"), 0o644))

	require.NoError(t, CreateLink(src, dst, actions.LinkSymlink))

	target, err := os.Readlink(dst)
	require.NoError(t, err)
	require.Equal(t, src, target)
}
