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

// Package store maps object hashes to on-disk paths: build outputs under
// obj/, bind state under bind/, snapshots, plans, and resolved-input
// caches. It owns no business logic beyond deterministic path computation
// and the one piece of shared mutable state every other component defers
// to it for: the store root lock.
package store

import (
	"fmt"
	"path/filepath"

	"anvil/pkg/hash"
)

// Root is the filesystem root of a store: either the per-user data
// directory or the privileged system directory, selected once at startup
// by the orchestrator based on elevation.
type Root struct {
	Path string
}

// NewRoot wraps an existing directory path as a store Root. It does not
// create the directory; callers needing it to exist call EnsureLayout.
func NewRoot(path string) Root {
	return Root{Path: path}
}

// ErrStoreCollision indicates two distinct objects hashed to the same
// 20-char prefix. This is fatal and requires human intervention: the store
// layout has no way to disambiguate two different objects sharing a path.
type ErrStoreCollision struct {
	Hash hash.ObjectHash
	Path string
}

func (e *ErrStoreCollision) Error() string {
	return fmt.Sprintf("store collision: two distinct objects hash to %s at %s", e.Hash, e.Path)
}

// ObjDir is the build-outputs root: obj/<build-hash>/.
func (r Root) ObjDir() string { return filepath.Join(r.Path, "obj") }

// ObjectPath is the promoted output directory for a realized build.
func (r Root) ObjectPath(h hash.ObjectHash) string { return filepath.Join(r.ObjDir(), string(h)) }

// CompletionMarkerPath is the file whose presence means ObjectPath(h) is a
// fully promoted, immutable build output.
func (r Root) CompletionMarkerPath(h hash.ObjectHash) string {
	return filepath.Join(r.ObjectPath(h), ".anvil-complete.json")
}

// BindDir is the bind-state root: bind/<bind-hash>/.
func (r Root) BindDir() string { return filepath.Join(r.Path, "bind") }

// BindStatePath is where a bind's persisted outputs live, read back by a
// future destroy or rollback.
func (r Root) BindStatePath(h hash.ObjectHash) string {
	return filepath.Join(r.BindDir(), string(h), "state.json")
}

// SnapshotsDir is the snapshot document root.
func (r Root) SnapshotsDir() string { return filepath.Join(r.Path, "snapshots") }

// SnapshotPath is the document for one snapshot id.
func (r Root) SnapshotPath(id string) string {
	return filepath.Join(r.SnapshotsDir(), id+".json")
}

// CurrentPointerPath is the file naming the current snapshot's id.
func (r Root) CurrentPointerPath() string {
	return filepath.Join(r.SnapshotsDir(), "current")
}

// PlansDir is the root for persisted `plan` output.
func (r Root) PlansDir() string { return filepath.Join(r.Path, "plans") }

// PlanManifestPath is where a plan's evaluated manifest is written.
func (r Root) PlanManifestPath(manifestHash hash.ObjectHash) string {
	return filepath.Join(r.PlansDir(), string(manifestHash), "manifest.json")
}

// InputsDir is the resolved-input cache root.
func (r Root) InputsDir() string { return filepath.Join(r.Path, "inputs") }

// InputCachePath is the cache directory for one resolved source hash.
func (r Root) InputCachePath(sourceHash hash.ObjectHash) string {
	return filepath.Join(r.InputsDir(), string(sourceHash))
}

// LockFilePath is the store-root advisory lock used to serialize
// concurrent apply invocations (SPEC_FULL open question: store root
// locking).
func (r Root) LockFilePath() string {
	return filepath.Join(r.Path, ".anvil.lock")
}

// HasObject reports whether h has a completed build output in the store.
func (r Root) HasObject(h hash.ObjectHash) bool {
	return fileExists(r.CompletionMarkerPath(h))
}
