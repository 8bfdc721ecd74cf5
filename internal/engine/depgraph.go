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

package engine

import (
	"sort"

	"anvil/pkg/hash"
	"anvil/pkg/manifest"
)

type nodeState int

const (
	statePending nodeState = iota
	stateStarted
	stateDone
)

// depGraph is the build dependency DAG restricted to the set of hashes
// the diff engine asked to realize. Builds depended on that are already
// cached are not nodes here; they impose no wait since HasObject already
// reports them satisfied.
type depGraph struct {
	deps       map[hash.ObjectHash][]hash.ObjectHash
	dependents map[hash.ObjectHash][]hash.ObjectHash
	state      map[hash.ObjectHash]nodeState
	order      []hash.ObjectHash
}

func newDepGraph(m *manifest.Manifest, toRealize []hash.ObjectHash) *depGraph {
	set := map[hash.ObjectHash]bool{}
	for _, h := range toRealize {
		set[h] = true
	}

	g := &depGraph{
		deps:       map[hash.ObjectHash][]hash.ObjectHash{},
		dependents: map[hash.ObjectHash][]hash.ObjectHash{},
		state:      map[hash.ObjectHash]nodeState{},
		order:      append([]hash.ObjectHash(nil), toRealize...),
	}
	for _, h := range toRealize {
		g.state[h] = statePending
		def := m.Builds[h]
		for _, dep := range def.DependsOnBuilds() {
			if set[dep] {
				g.deps[h] = append(g.deps[h], dep)
				g.dependents[dep] = append(g.dependents[dep], h)
			}
		}
	}
	return g
}

// hasWork reports whether any node is not yet done. Skipped nodes stay
// pending, so they keep this true; the caller stops once nothing is ready
// and nothing is in flight.
func (g *depGraph) hasWork() bool {
	for _, h := range g.order {
		if g.state[h] != stateDone {
			return true
		}
	}
	return false
}

// ready returns the pending nodes whose dependencies are all done, in
// deterministic (hash-sorted) order, excluding nodes already marked
// skipped or failed by the caller.
func (g *depGraph) ready(skipped, failed map[hash.ObjectHash]bool) []hash.ObjectHash {
	var out []hash.ObjectHash
	for _, h := range g.order {
		if g.state[h] != statePending || skipped[h] || failed[h] {
			continue
		}
		blocked := false
		for _, dep := range g.deps[h] {
			if g.state[dep] != stateDone {
				blocked = true
				break
			}
		}
		if !blocked {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (g *depGraph) markStarted(h hash.ObjectHash) { g.state[h] = stateStarted }
func (g *depGraph) markDone(h hash.ObjectHash)    { g.state[h] = stateDone }
