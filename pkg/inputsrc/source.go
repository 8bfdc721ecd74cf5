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

// Package inputsrc parses the `git:<url>[#rev]` / `path:<path>` source
// reference syntax a manifest's inputs are declared with. It is a leaf
// package: internal/inputs consumes it to drive resolution.
package inputsrc

import (
	"fmt"
	"strings"

	giturls "github.com/chainguard-dev/git-urls"
)

// Kind distinguishes a git source from a local path source.
type Kind string

const (
	KindGit  Kind = "git"
	KindPath Kind = "path"
)

// Source is a parsed input reference.
type Source struct {
	Kind Kind
	// URL is the git remote, for KindGit.
	URL string
	// Rev is the optional branch/tag/commit after '#', for KindGit. Empty
	// means "default branch's HEAD".
	Rev string
	// Path is the local directory, for KindPath. `~` is left unexpanded;
	// callers expand home directory themselves (they know the caller's
	// HOME, not this package).
	Path string
}

// ErrInputParse means the source reference string is not well-formed.
type ErrInputParse struct {
	Raw string
	Err error
}

func (e *ErrInputParse) Error() string {
	return fmt.Sprintf("input parse %q: %v", e.Raw, e.Err)
}

func (e *ErrInputParse) Unwrap() error { return e.Err }

// Parse splits a source reference into a Source, validating the git URL
// portion eagerly so malformed references fail before any network I/O.
func Parse(raw string) (Source, error) {
	switch {
	case strings.HasPrefix(raw, "git:"):
		return parseGit(strings.TrimPrefix(raw, "git:"), raw)
	case strings.HasPrefix(raw, "path:"):
		p := strings.TrimPrefix(raw, "path:")
		if p == "" {
			return Source{}, &ErrInputParse{Raw: raw, Err: fmt.Errorf("empty path")}
		}
		return Source{Kind: KindPath, Path: p}, nil
	default:
		return Source{}, &ErrInputParse{Raw: raw, Err: fmt.Errorf("unrecognized source scheme (want git: or path:)")}
	}
}

func parseGit(rest, raw string) (Source, error) {
	url, rev, _ := strings.Cut(rest, "#")
	if url == "" {
		return Source{}, &ErrInputParse{Raw: raw, Err: fmt.Errorf("empty git url")}
	}
	if _, err := giturls.Parse(url); err != nil {
		return Source{}, &ErrInputParse{Raw: raw, Err: fmt.Errorf("invalid git url: %w", err)}
	}
	return Source{Kind: KindGit, URL: url, Rev: rev}, nil
}
