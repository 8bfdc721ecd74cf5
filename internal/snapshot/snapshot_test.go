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

package snapshot

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"anvil/internal/store"
	"anvil/pkg/manifest"
)

func newTestStore(t *testing.T) (*Store, store.Root) {
	t.Helper()
	root := store.NewRoot(t.TempDir())
	require.NoError(t, root.EnsureLayout())
	return NewStore(root), root
}

func TestStore_CurrentWithNoApplyReturnsErrNoCurrent(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Current()
	require.ErrorIs(t, err, ErrNoCurrent)
}

func TestStore_WriteLoadPromoteRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)

	snap := &Snapshot{
		ID:          NewID(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)),
		CreatedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Manifest:    manifest.New(),
		BindOutputs: map[string]json.RawMessage{"id:x": json.RawMessage(`{"uid":1}`)},
	}
	require.NoError(t, s.Write(snap))

	loaded, err := s.Load(snap.ID)
	require.NoError(t, err)
	require.Equal(t, snap.ID, loaded.ID)
	require.JSONEq(t, `{"uid":1}`, string(loaded.BindOutputs["id:x"]))

	_, err = s.Current()
	require.ErrorIs(t, err, ErrNoCurrent)

	require.NoError(t, s.Promote(snap.ID))
	cur, err := s.Current()
	require.NoError(t, err)
	require.Equal(t, snap.ID, cur.ID)
}

func TestStore_PromoteDoesNotMoveUntilCalled(t *testing.T) {
	s, _ := newTestStore(t)

	first := &Snapshot{ID: NewID(time.Now().UTC()), Manifest: manifest.New(), BindOutputs: map[string]json.RawMessage{}}
	require.NoError(t, s.Write(first))
	require.NoError(t, s.Promote(first.ID))

	second := &Snapshot{ID: NewID(time.Now().UTC()), Manifest: manifest.New(), BindOutputs: map[string]json.RawMessage{}, ParentID: first.ID}
	require.NoError(t, s.Write(second))

	cur, err := s.Current()
	require.NoError(t, err)
	require.Equal(t, first.ID, cur.ID, "current must still point at first until Promote(second.ID) runs")

	require.NoError(t, s.Promote(second.ID))
	cur, err = s.Current()
	require.NoError(t, err)
	require.Equal(t, second.ID, cur.ID)
	require.Equal(t, first.ID, cur.ParentID)
}

func TestStore_ListReturnsIDsSortedOldestFirst(t *testing.T) {
	s, _ := newTestStore(t)

	ids := []string{
		NewID(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		NewID(time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)),
		NewID(time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC)),
	}
	for _, id := range ids {
		require.NoError(t, s.Write(&Snapshot{ID: id, Manifest: manifest.New(), BindOutputs: map[string]json.RawMessage{}}))
	}

	listed, err := s.List()
	require.NoError(t, err)
	require.Len(t, listed, 3)
	require.True(t, listed[0] < listed[1])
	require.True(t, listed[1] < listed[2])
}

func TestStore_ListWithNoSnapshotsReturnsEmpty(t *testing.T) {
	s, _ := newTestStore(t)
	listed, err := s.List()
	require.NoError(t, err)
	require.Empty(t, listed)
}

func TestNewID_IsUniqueAcrossCalls(t *testing.T) {
	at := time.Now().UTC()
	a := NewID(at)
	b := NewID(at)
	require.NotEqual(t, a, b, "two snapshots in the same instant must not collide")
}
