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

	"anvil/pkg/actions"
	"anvil/pkg/hash"
)

// BindDef is an imperative side effect on the host, with create/update/
// destroy lifecycle. Its hash is computed over ID, Inputs, and all three
// action sequences.
type BindDef struct {
	// ID, when set, is a stable identity for deduplication across runs
	// (e.g. a username). Two binds sharing an ID represent the same
	// logical resource even if their content hash differs between runs —
	// that difference is exactly what makes the diff engine call it an
	// update rather than a destroy+create.
	ID string `json:"id,omitempty"`

	Inputs Input `json:"inputs"`

	CreateActions  []actions.Action `json:"create_actions"`
	UpdateActions  []actions.Action `json:"update_actions,omitempty"`
	DestroyActions []actions.Action `json:"destroy_actions"`

	// Outputs is arbitrary JSON-serializable data the bind's create/update
	// actions return (e.g. an allocated UID). It is not part of the hash:
	// it is an effect of applying the bind, not a declaration of intent.
	Outputs map[string]any `json:"outputs,omitempty"`
}

// bindHashable is the subset of BindDef that participates in the hash — it
// excludes Outputs, which is populated only after the bind has run.
type bindHashable struct {
	ID             string           `json:"id,omitempty"`
	Inputs         Input            `json:"inputs"`
	CreateActions  []actions.Action `json:"create_actions"`
	UpdateActions  []actions.Action `json:"update_actions,omitempty"`
	DestroyActions []actions.Action `json:"destroy_actions"`
}

// Hash computes the BindDef's ObjectHash.
func (b BindDef) Hash() (hash.ObjectHash, error) {
	return hash.Of(bindHashable{
		ID:             b.ID,
		Inputs:         b.Inputs,
		CreateActions:  b.CreateActions,
		UpdateActions:  b.UpdateActions,
		DestroyActions: b.DestroyActions,
	})
}

// Identity returns the bind's diff identity: ID if set, else its hash.
func (b BindDef) Identity(h hash.ObjectHash) string {
	if b.ID != "" {
		return "id:" + b.ID
	}
	return "hash:" + string(h)
}

// EffectiveUpdateActions returns UpdateActions, or — when absent, per the
// "update = destroy+create" fallback: DestroyActions followed by
// CreateActions.
func (b BindDef) EffectiveUpdateActions() []actions.Action {
	if b.UpdateActions != nil {
		return b.UpdateActions
	}
	combined := make([]actions.Action, 0, len(b.DestroyActions)+len(b.CreateActions))
	combined = append(combined, b.DestroyActions...)
	combined = append(combined, b.CreateActions...)
	return combined
}

// Validate checks structural invariants across all three action sequences.
func (b BindDef) Validate() error {
	if err := b.Inputs.Validate(); err != nil {
		return fmt.Errorf("bind %q: inputs: %w", b.ID, err)
	}
	for _, seq := range [][]actions.Action{b.CreateActions, b.UpdateActions, b.DestroyActions} {
		for i, a := range seq {
			if err := a.Validate(); err != nil {
				return fmt.Errorf("bind %q: action[%d]: %w", b.ID, i, err)
			}
		}
	}
	return nil
}

// DependsOnBuilds returns the hashes of builds this bind references, which
// must be realized before the bind is applied.
func (b BindDef) DependsOnBuilds() []hash.ObjectHash {
	return b.Inputs.BuildRefs()
}

// DependsOnBinds returns the hashes of other binds this bind references,
// which must be applied before this one.
func (b BindDef) DependsOnBinds() []hash.ObjectHash {
	return b.Inputs.BindRefs()
}
