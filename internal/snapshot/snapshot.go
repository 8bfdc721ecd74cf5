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

// Package snapshot persists the last-applied manifest and per-bind
// outputs, the source of truth the diff engine compares the next
// evaluation against.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"

	"anvil/internal/fsutil"
	"anvil/internal/store"
	"anvil/pkg/hash"
	"anvil/pkg/manifest"
)

// Snapshot is the persisted record of one successful apply.
type Snapshot struct {
	ID           string                     `json:"id"`
	CreatedAt    time.Time                  `json:"created_at"`
	ManifestHash hash.ObjectHash            `json:"manifest_hash"`
	Manifest     *manifest.Manifest         `json:"manifest"`
	BindOutputs  map[string]json.RawMessage `json:"bind_outputs"`
	ParentID     string                     `json:"parent_id,omitempty"`
}

// NewID generates a timestamp-derived, unique snapshot id: a sortable
// prefix plus a uuid suffix so two snapshots in the same millisecond
// never collide.
func NewID(at time.Time) string {
	return fmt.Sprintf("%s-%s", at.UTC().Format("20060102T150405.000000000Z"), uuid.NewString())
}

// ErrNoCurrent means no apply has ever succeeded against this store root.
var ErrNoCurrent = fmt.Errorf("no current snapshot")

// Store reads and writes snapshot documents under a store.Root.
type Store struct {
	Root store.Root
}

// NewStore wraps root as a snapshot Store.
func NewStore(root store.Root) *Store { return &Store{Root: root} }

// Current loads the snapshot the `current` pointer names, or ErrNoCurrent
// if no apply has ever succeeded.
func (s *Store) Current() (*Snapshot, error) {
	data, err := os.ReadFile(s.Root.CurrentPointerPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCurrent
		}
		return nil, fmt.Errorf("read current pointer: %w", err)
	}
	id := string(data)
	return s.Load(id)
}

// Load reads the snapshot document with the given id.
func (s *Store) Load(id string) (*Snapshot, error) {
	data, err := os.ReadFile(s.Root.SnapshotPath(id))
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", id, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse snapshot %s: %w", id, err)
	}
	return &snap, nil
}

// Write persists snap to its document path. It does not move the
// `current` pointer; call Promote for that once the apply that produced
// snap has fully succeeded.
func (s *Store) Write(snap *Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot %s: %w", snap.ID, err)
	}
	if err := os.MkdirAll(s.Root.SnapshotsDir(), 0o755); err != nil {
		return fmt.Errorf("ensure snapshots dir: %w", err)
	}
	return fsutil.WriteAtomic(s.Root.SnapshotPath(snap.ID), data, 0o644)
}

// Promote atomically makes id the current snapshot. Only ever called
// after Write has successfully landed that snapshot's document, so a
// crash between Write and Promote leaves the previous snapshot current.
func (s *Store) Promote(id string) error {
	return fsutil.WriteAtomic(s.Root.CurrentPointerPath(), []byte(id), 0o644)
}

// List enumerates snapshot ids present on disk, oldest first.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.Root.SnapshotsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || e.Name() == "current" {
			continue
		}
		name := e.Name()
		if len(name) > 5 && name[len(name)-5:] == ".json" {
			ids = append(ids, name[:len(name)-5])
		}
	}
	sort.Strings(ids)
	return ids, nil
}
