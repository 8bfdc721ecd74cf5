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
	"encoding/json"
	"fmt"
	"sort"

	"anvil/pkg/hash"
)

// InputKind selects which variant of Input is populated.
type InputKind string

const (
	InputString   InputKind = "string"
	InputNumber   InputKind = "number"
	InputBoolean  InputKind = "boolean"
	InputArray    InputKind = "array"
	InputTable    InputKind = "table"
	InputBuildRef InputKind = "build_ref"
	InputBindRef  InputKind = "bind_ref"
	// InputResolved carries the outcome of resolving an external source
	// reference declared by the script (git:.../path:...): the resolver's
	// content hash for that source plus the local path it fetched or
	// canonicalized it to: the resolved-input handle.
	InputResolved InputKind = "resolved"
)

// Input is a tagged recursive value: the payload type of a build or bind's
// Inputs field. It is deliberately not a Go interface — references
// (BuildRef/BindRef) must never be confused with plain strings that happen
// to look like a hash, so each variant gets its own explicit field.
type Input struct {
	Kind InputKind `json:"kind"`

	StringVal  string           `json:"string,omitempty"`
	NumberVal  float64          `json:"number,omitempty"`
	BooleanVal bool             `json:"boolean,omitempty"`
	ArrayVal   []Input          `json:"array,omitempty"`
	TableVal   map[string]Input `json:"table,omitempty"`
	BuildRef   hash.ObjectHash  `json:"build_ref,omitempty"`
	BindRef    hash.ObjectHash  `json:"bind_ref,omitempty"`
	Resolved   *ResolvedHandle  `json:"resolved,omitempty"`
}

// ResolvedHandle is the payload of an InputResolved value.
type ResolvedHandle struct {
	SourceHash hash.ObjectHash `json:"source_hash"`
	LocalPath  string          `json:"local_path"`
}

// String constructs a string-valued Input.
func String(s string) Input { return Input{Kind: InputString, StringVal: s} }

// Number constructs a number-valued Input. NaN and +/-Inf are rejected at
// hash time, not here, so a non-finite number is rejected at ingest
// (ingest is the point the value is about to be canonicalized).
func Number(n float64) Input { return Input{Kind: InputNumber, NumberVal: n} }

// Boolean constructs a boolean-valued Input.
func Boolean(b bool) Input { return Input{Kind: InputBoolean, BooleanVal: b} }

// Array constructs an ordered-list Input.
func Array(items ...Input) Input { return Input{Kind: InputArray, ArrayVal: items} }

// Table constructs a string-keyed map Input.
func Table(fields map[string]Input) Input { return Input{Kind: InputTable, TableVal: fields} }

// RefBuild constructs an Input referencing another build by hash.
func RefBuild(h hash.ObjectHash) Input { return Input{Kind: InputBuildRef, BuildRef: h} }

// RefBind constructs an Input referencing another bind by hash.
func RefBind(h hash.ObjectHash) Input { return Input{Kind: InputBindRef, BindRef: h} }

// ResolvedInput constructs an Input from an already-resolved external
// source.
func ResolvedInput(sourceHash hash.ObjectHash, localPath string) Input {
	return Input{Kind: InputResolved, Resolved: &ResolvedHandle{SourceHash: sourceHash, LocalPath: localPath}}
}

// Validate checks that exactly one variant field is populated for Kind, and
// recurses into Array/Table.
func (in Input) Validate() error {
	switch in.Kind {
	case InputString, InputNumber, InputBoolean:
		return nil
	case InputArray:
		for i, e := range in.ArrayVal {
			if err := e.Validate(); err != nil {
				return fmt.Errorf("array[%d]: %w", i, err)
			}
		}
		return nil
	case InputTable:
		for k, v := range in.TableVal {
			if err := v.Validate(); err != nil {
				return fmt.Errorf("table[%q]: %w", k, err)
			}
		}
		return nil
	case InputBuildRef:
		if in.BuildRef.Empty() {
			return fmt.Errorf("build_ref input missing a hash")
		}
		return nil
	case InputBindRef:
		if in.BindRef.Empty() {
			return fmt.Errorf("bind_ref input missing a hash")
		}
		return nil
	case InputResolved:
		if in.Resolved == nil || in.Resolved.SourceHash.Empty() {
			return fmt.Errorf("resolved input missing a source hash")
		}
		return nil
	default:
		return fmt.Errorf("unknown input kind %q", in.Kind)
	}
}

// MarshalJSON implements json.Marshaler, rendering BuildRef/BindRef
// compactly (hash only), and every other variant
// as its natural JSON shape, tagged by kind so round-tripping is lossless.
func (in Input) MarshalJSON() ([]byte, error) {
	type wire struct {
		Kind InputKind `json:"kind"`
		Val  any       `json:"val"`
	}
	w := wire{Kind: in.Kind}
	switch in.Kind {
	case InputString:
		w.Val = in.StringVal
	case InputNumber:
		w.Val = in.NumberVal
	case InputBoolean:
		w.Val = in.BooleanVal
	case InputArray:
		w.Val = in.ArrayVal
	case InputTable:
		w.Val = in.TableVal
	case InputBuildRef:
		w.Val = in.BuildRef
	case InputBindRef:
		w.Val = in.BindRef
	case InputResolved:
		w.Val = in.Resolved
	default:
		return nil, fmt.Errorf("marshal input: unknown kind %q", in.Kind)
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler, the inverse of MarshalJSON.
func (in *Input) UnmarshalJSON(data []byte) error {
	var w struct {
		Kind InputKind       `json:"kind"`
		Val  json.RawMessage `json:"val"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	in.Kind = w.Kind
	switch w.Kind {
	case InputString:
		return json.Unmarshal(w.Val, &in.StringVal)
	case InputNumber:
		return json.Unmarshal(w.Val, &in.NumberVal)
	case InputBoolean:
		return json.Unmarshal(w.Val, &in.BooleanVal)
	case InputArray:
		return json.Unmarshal(w.Val, &in.ArrayVal)
	case InputTable:
		return json.Unmarshal(w.Val, &in.TableVal)
	case InputBuildRef:
		return json.Unmarshal(w.Val, &in.BuildRef)
	case InputBindRef:
		return json.Unmarshal(w.Val, &in.BindRef)
	case InputResolved:
		in.Resolved = &ResolvedHandle{}
		return json.Unmarshal(w.Val, in.Resolved)
	default:
		return fmt.Errorf("unmarshal input: unknown kind %q", w.Kind)
	}
}

// BuildRefs returns every BuildRef hash reachable from in, via a recursive
// fold over Array/Table, in encounter order with duplicates removed. This
// is the dependency-discovery traversal the execution engine and diff
// engine use to build the build DAG.
func (in Input) BuildRefs() []hash.ObjectHash {
	seen := map[hash.ObjectHash]bool{}
	var out []hash.ObjectHash
	in.foldRefs(func(k InputKind, h hash.ObjectHash) {
		if k == InputBuildRef && !seen[h] {
			seen[h] = true
			out = append(out, h)
		}
	})
	return out
}

// BindRefs is BuildRefs' counterpart for InputBindRef values.
func (in Input) BindRefs() []hash.ObjectHash {
	seen := map[hash.ObjectHash]bool{}
	var out []hash.ObjectHash
	in.foldRefs(func(k InputKind, h hash.ObjectHash) {
		if k == InputBindRef && !seen[h] {
			seen[h] = true
			out = append(out, h)
		}
	})
	return out
}

func (in Input) foldRefs(visit func(InputKind, hash.ObjectHash)) {
	switch in.Kind {
	case InputBuildRef:
		visit(InputBuildRef, in.BuildRef)
	case InputBindRef:
		visit(InputBindRef, in.BindRef)
	case InputArray:
		for _, e := range in.ArrayVal {
			e.foldRefs(visit)
		}
	case InputTable:
		keys := make([]string, 0, len(in.TableVal))
		for k := range in.TableVal {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			in.TableVal[k].foldRefs(visit)
		}
	}
}
