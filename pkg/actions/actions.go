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

// Package actions defines the action descriptor tagged union: the
// normalized, serializable steps a build or bind's create/update/destroy
// sequence is made of. Build contexts (internal/sandbox) execute the
// build-shaped ones; bind executors (internal/bind) execute all of them.
package actions

import "fmt"

// Kind identifies which variant an Action is.
type Kind string

const (
	KindFetchURL  Kind = "fetch_url"
	KindUnpack    Kind = "unpack"
	KindWriteFile Kind = "write_file"
	KindCmd       Kind = "cmd"
	KindScript    Kind = "script"

	// Bind-only.
	KindLink   Kind = "link"
	KindMkdir  Kind = "mkdir"
	KindOpaque Kind = "opaque"
)

// ScriptFormat names the interpreter an Script action is rendered for.
type ScriptFormat string

const (
	ScriptShell      ScriptFormat = "shell"
	ScriptBash       ScriptFormat = "bash"
	ScriptPowerShell ScriptFormat = "powershell"
	ScriptCmd        ScriptFormat = "cmd"
)

// LinkKind names how a Link action attaches dst to src.
type LinkKind string

const (
	LinkSymlink LinkKind = "symlink"
	LinkJunction LinkKind = "junction"
	LinkCopy     LinkKind = "copy"
)

// Action is one step of a build's or bind's action sequence. Exactly one of
// the variant-specific fields is populated, selected by Kind; this mirrors
// a closed tagged union for the action descriptor while remaining a
// plain JSON-marshalable struct (Go has no enum-with-payload).
type Action struct {
	Kind Kind `json:"kind"`

	FetchURL  *FetchURL  `json:"fetch_url,omitempty"`
	Unpack    *Unpack    `json:"unpack,omitempty"`
	WriteFile *WriteFile `json:"write_file,omitempty"`
	Cmd       *Cmd       `json:"cmd,omitempty"`
	Script    *Script    `json:"script,omitempty"`
	Link      *Link      `json:"link,omitempty"`
	Mkdir     *Mkdir     `json:"mkdir,omitempty"`
	Opaque    *Opaque    `json:"opaque,omitempty"`
}

// FetchURL downloads url and verifies its SHA-256 against sha256 before
// handing the build context a local path. The checksum is mandatory: a
// build cannot fetch an unpinned URL.
type FetchURL struct {
	URL    string `json:"url"`
	SHA256 string `json:"sha256"`
}

// Unpack extracts archive (format inferred from its filename suffix) into
// dest, relative to the build's output directory.
type Unpack struct {
	Archive string `json:"archive"`
	Dest    string `json:"dest"`
}

// WriteFile writes content literally to path. Mode is applied on POSIX and
// silently ignored elsewhere.
type WriteFile struct {
	Path    string `json:"path"`
	Content []byte `json:"content"`
	Mode    *uint32 `json:"mode,omitempty"`
}

// Cmd runs a binary inside the sandboxed environment described in
// internal/sandbox.
type Cmd struct {
	Cmd  string            `json:"cmd"`
	Args []string          `json:"args,omitempty"`
	Env  map[string]string `json:"env,omitempty"`
	Cwd  string            `json:"cwd,omitempty"`
}

// Script renders content through the named interpreter and runs it inside
// the same sandbox as Cmd.
type Script struct {
	Format  ScriptFormat `json:"format"`
	Content string       `json:"content"`
}

// Link attaches dst to src. Mutable links point directly at src (and are
// expected to track future changes to it); non-mutable links are the
// default used for store-backed outputs.
type Link struct {
	Src     string   `json:"src"`
	Dst     string   `json:"dst"`
	Kind    LinkKind `json:"kind"`
	Mutable bool     `json:"mutable,omitempty"`
}

// Mkdir creates path (and parents) with the given mode, applied on POSIX.
type Mkdir struct {
	Path string  `json:"path"`
	Mode *uint32 `json:"mode,omitempty"`
}

// Opaque is a user-registered action outside the built-in taxonomy (user
// accounts, group membership, scheduled jobs, ...). Its semantics are
// delegated entirely to whatever executor the embedding registers under
// Name; the core only threads the payload through unmodified.
type Opaque struct {
	Name    string          `json:"name"`
	Payload map[string]any  `json:"payload,omitempty"`
}

// Validate checks that the Action's Kind matches exactly one populated
// variant field, as a normalized action sequence must for hashing to be
// meaningful.
func (a Action) Validate() error {
	set := 0
	check := func(present bool) {
		if present {
			set++
		}
	}
	check(a.FetchURL != nil)
	check(a.Unpack != nil)
	check(a.WriteFile != nil)
	check(a.Cmd != nil)
	check(a.Script != nil)
	check(a.Link != nil)
	check(a.Mkdir != nil)
	check(a.Opaque != nil)

	if set != 1 {
		return fmt.Errorf("action kind %q must have exactly one payload, got %d", a.Kind, set)
	}
	return nil
}

// BuildOnly reports whether a may appear in a build's action sequence. It
// is false for the bind-only kinds (Link, Mkdir, Opaque) and true otherwise.
func (a Action) BuildOnly() bool {
	switch a.Kind {
	case KindLink, KindMkdir, KindOpaque:
		return false
	default:
		return true
	}
}
