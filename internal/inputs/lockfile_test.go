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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadLockFile_MissingFileReturnsEmpty(t *testing.T) {
	lf, err := LoadLockFile(filepath.Join(t.TempDir(), "nope.lock"))
	require.NoError(t, err)
	require.Equal(t, LockFileVersion, lf.Version)
	require.Empty(t, lf.Entries)
}

func TestLockFile_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anvil.lock")
	lf := NewLockFile()
	lf.Entries["dep"] = LockEntry{URI: "git:https://example.com/r#main", Kind: "git", Rev: "deadbeef", UpdatedAt: time.Now().UTC()}
	require.NoError(t, lf.Save(path))

	loaded, err := LoadLockFile(path)
	require.NoError(t, err)
	require.Equal(t, lf.Version, loaded.Version)
	require.Equal(t, "deadbeef", loaded.Entries["dep"].Rev)
}

func TestLoadLockFile_CorruptJSONIsRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anvil.lock")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := LoadLockFile(path)
	var corrupt *ErrLockFileCorrupt
	require.ErrorAs(t, err, &corrupt)
}

func TestLoadLockFile_NewerVersionIsRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anvil.lock")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":99,"entries":{}}`), 0o644))

	_, err := LoadLockFile(path)
	var versionErr *ErrLockFileVersion
	require.ErrorAs(t, err, &versionErr)
	require.Equal(t, 99, versionErr.Found)
}

func TestLockFile_SortedNames(t *testing.T) {
	lf := NewLockFile()
	lf.Entries["zeta"] = LockEntry{}
	lf.Entries["alpha"] = LockEntry{}
	lf.Entries["mid"] = LockEntry{}

	require.Equal(t, []string{"alpha", "mid", "zeta"}, lf.SortedNames())
}

func TestUpdateMode_Wants(t *testing.T) {
	require.True(t, UpdateMode{All: true}.wants("anything"))
	require.True(t, UpdateMode{Names: map[string]bool{"a": true}}.wants("a"))
	require.False(t, UpdateMode{Names: map[string]bool{"a": true}}.wants("b"))
	require.False(t, UpdateMode{}.wants("a"))
}
