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

// Package manifest holds the in-memory desired state a script evaluation
// (or, for now, a directly-authored JSON document — see Evaluator) produces:
// a hash-keyed map of builds and a hash-keyed map of binds.
package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"anvil/pkg/hash"
)

// Manifest is the evaluated desired state. Builds and Bindings are
// append-only during a single evaluation: inserting the same hash twice is
// an idempotent no-op, never an error.
type Manifest struct {
	Builds   map[hash.ObjectHash]BuildDef `json:"builds"`
	Bindings map[hash.ObjectHash]BindDef  `json:"bindings"`
}

// New returns an empty Manifest ready for inserts.
func New() *Manifest {
	return &Manifest{
		Builds:   map[hash.ObjectHash]BuildDef{},
		Bindings: map[hash.ObjectHash]BindDef{},
	}
}

// AddBuild hashes b, validates it, and inserts it keyed by its hash. It
// returns the hash so callers can reference it from other builds/binds via
// RefBuild. Re-adding an already-present hash is a no-op.
func (m *Manifest) AddBuild(b BuildDef) (hash.ObjectHash, error) {
	if err := b.Validate(); err != nil {
		var nonSemver *NonSemverVersion
		if !asNonSemver(err, &nonSemver) {
			return "", err
		}
	}
	h, err := b.Hash()
	if err != nil {
		return "", fmt.Errorf("hash build %q: %w", b.Name, err)
	}
	if _, exists := m.Builds[h]; !exists {
		m.Builds[h] = b
	}
	return h, nil
}

func asNonSemver(err error, target **NonSemverVersion) bool {
	if v, ok := err.(*NonSemverVersion); ok {
		*target = v
		return true
	}
	return false
}

// AddBind hashes b, validates it, and inserts it keyed by its hash.
// Re-adding an already-present hash is a no-op.
func (m *Manifest) AddBind(b BindDef) (hash.ObjectHash, error) {
	if err := b.Validate(); err != nil {
		return "", err
	}
	h, err := b.Hash()
	if err != nil {
		return "", fmt.Errorf("hash bind %q: %w", b.ID, err)
	}
	if _, exists := m.Bindings[h]; !exists {
		m.Bindings[h] = b
	}
	return h, nil
}

// SortedBuildHashes returns every build hash in sorted order, the
// deterministic iteration order required for canonical serialization.
func (m *Manifest) SortedBuildHashes() []hash.ObjectHash {
	return sortedKeys(m.Builds)
}

// SortedBindHashes returns every bind hash in sorted order.
func (m *Manifest) SortedBindHashes() []hash.ObjectHash {
	return sortedKeys(m.Bindings)
}

func sortedKeys[V any](m map[hash.ObjectHash]V) []hash.ObjectHash {
	keys := make([]hash.ObjectHash, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Hash computes the manifest hash: SHA-256 over the canonical serialization
// of the two sorted maps.
func (m *Manifest) Hash() (hash.ObjectHash, error) {
	return hash.Of(m)
}

// MarshalJSON renders the manifest in its canonical wire schema:
// string-keyed objects (Go's encoding/json already sorts map[string]T keys,
// but ObjectHash is a defined string type so that guarantee carries over
// automatically here).
func (m Manifest) MarshalJSON() ([]byte, error) {
	type wire struct {
		Builds   map[hash.ObjectHash]BuildDef `json:"builds"`
		Bindings map[hash.ObjectHash]BindDef  `json:"bindings"`
	}
	return json.Marshal(wire{Builds: m.Builds, Bindings: m.Bindings})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (m *Manifest) UnmarshalJSON(data []byte) error {
	var wire struct {
		Builds   map[hash.ObjectHash]BuildDef `json:"builds"`
		Bindings map[hash.ObjectHash]BindDef  `json:"bindings"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.Builds == nil {
		wire.Builds = map[hash.ObjectHash]BuildDef{}
	}
	if wire.Bindings == nil {
		wire.Bindings = map[hash.ObjectHash]BindDef{}
	}
	m.Builds = wire.Builds
	m.Bindings = wire.Bindings
	return nil
}

// ScriptEvalError wraps a failure from the (out-of-scope) script embedding
// or its JSON-file stand-in.
type ScriptEvalError struct {
	Path string
	Err  error
}

func (e *ScriptEvalError) Error() string {
	return fmt.Sprintf("script eval %s: %v", e.Path, e.Err)
}

func (e *ScriptEvalError) Unwrap() error { return e.Err }

// Evaluator turns a configuration file into a Manifest. The scripting
// language embedding that produces this in a full deployment is an
// external collaborator outside this repository's scope; Evaluator is the
// seam it implements.
type Evaluator interface {
	Evaluate(ctx context.Context, path string) (*Manifest, error)
}

// JSONFileEvaluator is the default Evaluator: it treats the configuration
// file as an already-evaluated manifest in the canonical JSON schema. This
// keeps apply/plan/destroy exercisable end-to-end without a scripting
// language, and gives a future Lua/JS evaluator the same interface to
// implement.
type JSONFileEvaluator struct{}

// Evaluate implements Evaluator.
func (JSONFileEvaluator) Evaluate(_ context.Context, path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ScriptEvalError{Path: path, Err: err}
	}
	m := New()
	if err := json.Unmarshal(data, m); err != nil {
		return nil, &ScriptEvalError{Path: path, Err: err}
	}
	for h, b := range m.Builds {
		if err := b.Validate(); err != nil {
			var nonSemver *NonSemverVersion
			if !asNonSemver(err, &nonSemver) {
				return nil, &ScriptEvalError{Path: path, Err: fmt.Errorf("build %s: %w", h, err)}
			}
		}
	}
	for h, b := range m.Bindings {
		if err := b.Validate(); err != nil {
			return nil, &ScriptEvalError{Path: path, Err: fmt.Errorf("bind %s: %w", h, err)}
		}
	}
	return m, nil
}
