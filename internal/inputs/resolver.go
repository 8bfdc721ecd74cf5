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

package inputs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"anvil/pkg/crypto"
	"anvil/pkg/hash"
	"anvil/pkg/inputsrc"
)

// UpdateMode controls whether Resolve re-resolves a locked entry.
type UpdateMode struct {
	// All re-resolves every input, ignoring the lock.
	All bool
	// Names, when non-empty (and All is false), re-resolves only the
	// named inputs.
	Names map[string]bool
}

// none is the default: use the lock verbatim.
func (m UpdateMode) wants(name string) bool {
	return m.All || m.Names[name]
}

// ErrInputNotFound means a path: source does not exist on disk.
type ErrInputNotFound struct{ Path string }

func (e *ErrInputNotFound) Error() string { return fmt.Sprintf("input path %s does not exist", e.Path) }

// ErrInputFetchFailed wraps a git clone/fetch failure.
type ErrInputFetchFailed struct {
	Source string
	Err    error
}

func (e *ErrInputFetchFailed) Error() string {
	return fmt.Sprintf("fetch input %s: %v", e.Source, e.Err)
}

func (e *ErrInputFetchFailed) Unwrap() error { return e.Err }

// Resolved is the outcome of resolving one named input.
type Resolved struct {
	SourceHash hash.ObjectHash
	LocalPath  string
}

// Resolver resolves git:/path: source references against a cache
// directory and a lock file.
type Resolver struct {
	CacheRoot string
	Lock      *LockFile
	Logger    *slog.Logger
}

// NewResolver builds a Resolver backed by cacheRoot (normally
// <store-root>/inputs) and lf.
func NewResolver(cacheRoot string, lf *LockFile, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{CacheRoot: cacheRoot, Lock: lf, Logger: logger}
}

// Resolve resolves the named input's raw source reference, consulting and
// updating the lock file as mode dictates.
func (r *Resolver) Resolve(ctx context.Context, name, raw string, mode UpdateMode) (Resolved, error) {
	src, err := inputsrc.Parse(raw)
	if err != nil {
		return Resolved{}, err
	}

	existing, hasEntry := r.Lock.Entries[name]
	reuse := hasEntry && existing.URI == raw && !mode.wants(name)

	switch src.Kind {
	case inputsrc.KindPath:
		return r.resolvePath(src, name, raw)
	case inputsrc.KindGit:
		if reuse {
			cacheDir := r.gitCacheDir(src.URL)
			if dirExists(cacheDir) {
				return Resolved{SourceHash: gitSourceHash(src.URL), LocalPath: cacheDir}, nil
			}
		}
		return r.resolveGit(ctx, src, name, raw)
	default:
		return Resolved{}, fmt.Errorf("resolve %s: unknown source kind %q", name, src.Kind)
	}
}

func (r *Resolver) resolvePath(src inputsrc.Source, name, raw string) (Resolved, error) {
	p := src.Path
	if p == "~" || len(p) >= 2 && p[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Resolved{}, fmt.Errorf("resolve %s: expand home: %w", name, err)
		}
		if p == "~" {
			p = home
		} else {
			p = filepath.Join(home, p[2:])
		}
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return Resolved{}, fmt.Errorf("resolve %s: %w", name, err)
	}
	if _, err := os.Stat(abs); err != nil {
		return Resolved{}, &ErrInputNotFound{Path: abs}
	}

	h, err := hashPathContent(abs)
	if err != nil {
		return Resolved{}, fmt.Errorf("resolve %s: %w", name, err)
	}

	r.Lock.Entries[name] = LockEntry{URI: raw, Kind: string(inputsrc.KindPath), Integrity: h.String(), UpdatedAt: now()}
	return Resolved{SourceHash: h, LocalPath: abs}, nil
}

func (r *Resolver) resolveGit(ctx context.Context, src inputsrc.Source, name, raw string) (Resolved, error) {
	cacheDir := r.gitCacheDir(src.URL)

	var repo *git.Repository
	if dirExists(cacheDir) {
		opened, err := git.PlainOpen(cacheDir)
		if err != nil {
			return Resolved{}, &ErrInputFetchFailed{Source: raw, Err: err}
		}
		if err := opened.FetchContext(ctx, &git.FetchOptions{RemoteName: "origin", Force: true}); err != nil && err != git.NoErrAlreadyUpToDate {
			return Resolved{}, &ErrInputFetchFailed{Source: raw, Err: err}
		}
		repo = opened
	} else {
		if err := os.MkdirAll(filepath.Dir(cacheDir), 0o755); err != nil {
			return Resolved{}, &ErrInputFetchFailed{Source: raw, Err: err}
		}
		cloned, err := git.PlainCloneContext(ctx, cacheDir, false, &git.CloneOptions{URL: src.URL})
		if err != nil {
			return Resolved{}, &ErrInputFetchFailed{Source: raw, Err: err}
		}
		repo = cloned
	}

	commit, err := resolveRev(repo, src.Rev)
	if err != nil {
		return Resolved{}, &ErrInputFetchFailed{Source: raw, Err: err}
	}

	wt, err := repo.Worktree()
	if err != nil {
		return Resolved{}, &ErrInputFetchFailed{Source: raw, Err: err}
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: commit, Force: true}); err != nil {
		return Resolved{}, &ErrInputFetchFailed{Source: raw, Err: err}
	}

	r.Lock.Entries[name] = LockEntry{URI: raw, Kind: string(inputsrc.KindGit), Rev: commit.String(), UpdatedAt: now()}
	r.Logger.Info("resolved git input", slog.String("name", name), slog.String("source", crypto.RedactURL(raw)), slog.String("rev", commit.String()))
	return Resolved{SourceHash: gitSourceHash(src.URL), LocalPath: cacheDir}, nil
}

func resolveRev(repo *git.Repository, rev string) (plumbing.Hash, error) {
	if rev == "" {
		head, err := repo.Head()
		if err != nil {
			return plumbing.ZeroHash, err
		}
		return head.Hash(), nil
	}
	h, err := repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		if err == plumbing.ErrReferenceNotFound || err == transport.ErrEmptyRemoteRepository {
			return plumbing.ZeroHash, fmt.Errorf("revision %q not found", rev)
		}
		return plumbing.ZeroHash, err
	}
	return *h, nil
}

func (r *Resolver) gitCacheDir(url string) string {
	return filepath.Join(r.CacheRoot, gitSourceHash(url).String())
}

func gitSourceHash(url string) hash.ObjectHash {
	sum := sha256.Sum256([]byte(url))
	return hash.ObjectHash(hex.EncodeToString(sum[:])[:hash.Length])
}

func hashPathContent(root string) (hash.ObjectHash, error) {
	h := sha256.New()
	var paths []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return "", err
	}
	sort.Strings(paths)
	for _, rel := range paths {
		h.Write([]byte(rel))
		content, err := os.ReadFile(filepath.Join(root, rel))
		if err != nil {
			return "", err
		}
		h.Write(content)
	}
	sum := hex.EncodeToString(h.Sum(nil))
	return hash.ObjectHash(sum[:hash.Length]), nil
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func now() time.Time { return time.Now().UTC() }
