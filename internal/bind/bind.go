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

// Package bind executes a bind's create/update/destroy action sequences:
// Link, Mkdir, and dispatch to caller-registered Opaque executors. Unlike
// internal/sandbox (build actions, pure and hermetic), bind actions touch
// the live host directly and run unsandboxed.
package bind

import (
	"context"
	"encoding/json"
	"fmt"

	"anvil/internal/platform"
	"anvil/pkg/actions"
)

// OpaqueExecutor runs one opaque action, returning whatever JSON-
// serializable outputs the bind should remember.
type OpaqueExecutor func(ctx context.Context, payload map[string]any) (map[string]any, error)

// Registry maps an opaque action's Name to the executor the embedding
// registered for it. Actions naming an unregistered opaque executor fail
// the bind rather than silently no-oping, since delegated semantics with
// no implementation is a configuration error, not a runtime one.
type Registry struct {
	executors map[string]OpaqueExecutor
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{executors: map[string]OpaqueExecutor{}}
}

// Register adds an executor for the named opaque action kind.
func (r *Registry) Register(name string, exec OpaqueExecutor) {
	r.executors[name] = exec
}

// ErrUnregisteredOpaque means a bind declared an opaque action this
// Registry has no executor for.
type ErrUnregisteredOpaque struct{ Name string }

func (e *ErrUnregisteredOpaque) Error() string {
	return fmt.Sprintf("opaque action %q has no registered executor", e.Name)
}

// Run executes one action from a bind's create/update/destroy sequence,
// returning any outputs an Opaque executor produced (nil for the
// structural actions, which have no return value).
func (r *Registry) Run(ctx context.Context, a actions.Action) (map[string]any, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	switch a.Kind {
	case actions.KindLink:
		return nil, platform.CreateLink(a.Link.Src, a.Link.Dst, a.Link.Kind)
	case actions.KindMkdir:
		return nil, runMkdir(a.Mkdir)
	case actions.KindOpaque:
		exec, ok := r.executors[a.Opaque.Name]
		if !ok {
			return nil, &ErrUnregisteredOpaque{Name: a.Opaque.Name}
		}
		return exec(ctx, a.Opaque.Payload)
	// The build-shaped actions are also legal inside a bind's sequence
	// (e.g. a bind that writes a config file directly): delegate to the
	// same unsandboxed filesystem primitives.
	case actions.KindWriteFile:
		return nil, runWriteFile(a.WriteFile)
	case actions.KindCmd:
		return nil, runCmd(ctx, a.Cmd)
	case actions.KindScript:
		return nil, runScript(ctx, a.Script)
	default:
		return nil, fmt.Errorf("bind action %q is not supported", a.Kind)
	}
}

// RunSequence runs every action in order, merging each Opaque action's
// outputs into a single map (last write wins, matching a bind having one
// outputs document).
func (r *Registry) RunSequence(ctx context.Context, seq []actions.Action) (map[string]any, error) {
	outputs := map[string]any{}
	for i, a := range seq {
		out, err := r.Run(ctx, a)
		if err != nil {
			return nil, fmt.Errorf("action %d (%s): %w", i, a.Kind, err)
		}
		for k, v := range out {
			outputs[k] = v
		}
	}
	return outputs, nil
}

// MarshalOutputs renders a bind's outputs map deterministically for
// persistence in bind state / snapshot documents.
func MarshalOutputs(outputs map[string]any) (json.RawMessage, error) {
	if outputs == nil {
		outputs = map[string]any{}
	}
	return json.Marshal(outputs)
}
