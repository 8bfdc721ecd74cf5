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

package manifest

import (
	"fmt"

	"github.com/blang/semver/v4"

	"anvil/pkg/actions"
	"anvil/pkg/hash"
)

// DefaultOutput is the output slot name a build carries when it declares
// none explicitly.
const DefaultOutput = "out"

// BuildDef is a pure, hermetic producer of a directory tree. Its hash is
// computed over Name, Version, Inputs (recursively, including any
// referenced build hashes), the normalized Actions sequence, and the
// declared Outputs — the script source itself never enters the hash, only
// what it produced.
type BuildDef struct {
	Name    string          `json:"name,omitempty"`
	Version string          `json:"version,omitempty"`
	Inputs  Input           `json:"inputs"`
	Actions []actions.Action `json:"actions"`
	Outputs []string        `json:"outputs,omitempty"`
}

// NormalizedOutputs returns Outputs, defaulting to {"out"} when unset.
func (b BuildDef) NormalizedOutputs() []string {
	if len(b.Outputs) == 0 {
		return []string{DefaultOutput}
	}
	return b.Outputs
}

// Validate checks structural invariants: inputs are well-formed, every
// action is a single-variant action, and no bind-only action (Link, Mkdir,
// Opaque) appears in a build's sequence.
func (b BuildDef) Validate() error {
	if err := b.Inputs.Validate(); err != nil {
		return fmt.Errorf("build %q: inputs: %w", b.Name, err)
	}
	for i, a := range b.Actions {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("build %q: action[%d]: %w", b.Name, i, err)
		}
		if !a.BuildOnly() {
			return fmt.Errorf("build %q: action[%d]: %q is bind-only", b.Name, i, a.Kind)
		}
	}
	if b.Version != "" {
		if _, err := semver.Parse(b.Version); err != nil {
			// Non-semver versions are common ("unstable", "2024-01-01") and
			// are not a hashed identity concern beyond their raw string, so
			// this is advisory only; callers decide whether to surface it.
			return &NonSemverVersion{Version: b.Version, Cause: err}
		}
	}
	return nil
}

// NonSemverVersion reports that a BuildDef's Version did not parse as
// semver. Validate returns it as its error; AddBuild and JSONFileEvaluator
// type-assert and discard it, so it never fails an insert or an
// evaluation. It is exported so a CLI surface can log.Warn it.
type NonSemverVersion struct {
	Version string
	Cause   error
}

func (e *NonSemverVersion) Error() string {
	return fmt.Sprintf("version %q is not valid semver: %v", e.Version, e.Cause)
}

func (e *NonSemverVersion) Unwrap() error { return e.Cause }

// Hash computes the BuildDef's ObjectHash per the canonical rule above.
func (b BuildDef) Hash() (hash.ObjectHash, error) {
	return hash.Of(b)
}

// DependsOnBuilds returns the hashes of every build this BuildDef
// references through its Inputs, the edges of the build DAG the execution
// engine schedules over.
func (b BuildDef) DependsOnBuilds() []hash.ObjectHash {
	return b.Inputs.BuildRefs()
}
