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

// Package diffengine compares a desired manifest against the previous
// snapshot and emits the build and bind sets the apply orchestrator acts
// on, in dependency order.
package diffengine

import (
	"sort"

	"github.com/samber/lo"

	"anvil/internal/store"
	"anvil/pkg/hash"
	"anvil/pkg/manifest"
)

// BoundBind pairs a BindDef with the identity the diff used to classify
// it (its `id` if set, else its hash). PrevDef is set only for a bind
// entering ToUpdate: the definition it is being updated from, needed to
// reverse the update on rollback.
type BoundBind struct {
	Identity string
	Hash     hash.ObjectHash
	Def      manifest.BindDef
	PrevDef  *manifest.BindDef
}

// Diff is the full output of comparing a manifest against a snapshot.
type Diff struct {
	ToRealize []hash.ObjectHash
	Cached    []hash.ObjectHash

	ToDestroy []BoundBind // reverse creation order
	ToApply   []BoundBind // ToCreate ∪ ToUpdate, one merged topological order
	ToCreate  []BoundBind // subset of ToApply; same relative order
	ToUpdate  []BoundBind // subset of ToApply; same relative order
	Unchanged []BoundBind
}

// PreviousManifest is the subset of a Snapshot the diff engine needs: its
// manifest and, for to_destroy ordering, the order bindings were declared
// in (a manifest's Bindings map iterates by hash; declaration order is
// approximated by the snapshot's own sorted bind hashes, which is stable
// and deterministic across runs).
type PreviousManifest struct {
	Manifest *manifest.Manifest
}

// Compute produces a Diff for desired against prev (nil if no snapshot
// exists yet) and root (used for the build cache-presence check).
func Compute(desired *manifest.Manifest, prev *PreviousManifest, root store.Root) Diff {
	var d Diff

	prevBuildHashes := map[hash.ObjectHash]bool{}
	if prev != nil {
		for h := range prev.Manifest.Builds {
			prevBuildHashes[h] = true
		}
	}
	for _, h := range desired.SortedBuildHashes() {
		if prevBuildHashes[h] && root.HasObject(h) {
			d.Cached = append(d.Cached, h)
		} else {
			d.ToRealize = append(d.ToRealize, h)
		}
	}

	desiredBound := boundBinds(desired)
	desiredByIdentity := lo.KeyBy(desiredBound, func(b BoundBind) string { return b.Identity })

	var prevBound []BoundBind
	if prev != nil {
		prevBound = boundBinds(prev.Manifest)
	}
	prevByIdentity := lo.KeyBy(prevBound, func(b BoundBind) string { return b.Identity })

	for _, b := range prevBound {
		if _, ok := desiredByIdentity[b.Identity]; !ok {
			d.ToDestroy = append(d.ToDestroy, b)
		}
	}
	// Reverse of creation order: prevBound is already deterministic
	// (sorted by hash), so its reverse is a stable, repeatable ordering
	// even though it is not literally "the order they were created in".
	reverseInPlace(d.ToDestroy)

	var toCreate, toUpdate, unchanged []BoundBind
	createSet := map[string]bool{}
	for _, b := range desiredBound {
		old, existed := prevByIdentity[b.Identity]
		switch {
		case !existed:
			createSet[b.Identity] = true
			toCreate = append(toCreate, b)
		case old.Hash != b.Hash:
			prevDef := old.Def
			b.PrevDef = &prevDef
			toUpdate = append(toUpdate, b)
		default:
			unchanged = append(unchanged, b)
		}
	}

	// to_apply_create and to_apply_update run as one dependency-respecting
	// sequence: a create can reference a bind being updated in the same
	// run (or vice versa), so they are topologically sorted together, not
	// as two independent sorts.
	combined := make([]BoundBind, 0, len(toCreate)+len(toUpdate))
	combined = append(combined, toCreate...)
	combined = append(combined, toUpdate...)
	d.ToApply = topoSort(combined, desiredByIdentity)

	for _, b := range d.ToApply {
		if createSet[b.Identity] {
			d.ToCreate = append(d.ToCreate, b)
		} else {
			d.ToUpdate = append(d.ToUpdate, b)
		}
	}
	d.Unchanged = unchanged

	return d
}

func boundBinds(m *manifest.Manifest) []BoundBind {
	out := make([]BoundBind, 0, len(m.Bindings))
	for _, h := range m.SortedBindHashes() {
		def := m.Bindings[h]
		out = append(out, BoundBind{Identity: def.Identity(h), Hash: h, Def: def})
	}
	return out
}

func reverseInPlace(s []BoundBind) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

// topoSort orders binds so that a bind referencing another bind (via
// BindRef in its inputs) always follows it. Independent binds are ordered
// by identity for determinism.
func topoSort(binds []BoundBind, byIdentity map[string]BoundBind) []BoundBind {
	byHash := make(map[hash.ObjectHash]BoundBind, len(binds))
	for _, b := range binds {
		byHash[b.Hash] = b
	}

	sorted := append([]BoundBind(nil), binds...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Identity < sorted[j].Identity })

	visited := map[string]int{} // 0=unvisited 1=visiting 2=done
	var order []BoundBind
	var visit func(b BoundBind)
	visit = func(b BoundBind) {
		switch visited[b.Identity] {
		case 2:
			return
		case 1:
			return // cycle; bind refs form a DAG, so this is defensive only
		}
		visited[b.Identity] = 1
		for _, ref := range b.Def.Inputs.BindRefs() {
			if dep, ok := byHash[ref]; ok {
				visit(dep)
			}
		}
		visited[b.Identity] = 2
		order = append(order, b)
	}
	for _, b := range sorted {
		visit(b)
	}
	return order
}
