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

// Package engine realizes builds: it orders the build DAG, runs
// independent builds concurrently up to a bounded worker count, caches by
// content hash, and atomically promotes successful outputs into the
// store.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	deadlock "github.com/sasha-s/go-deadlock"

	"anvil/internal/fsutil"
	"anvil/internal/metrics"
	"anvil/internal/sandbox"
	"anvil/internal/store"
	"anvil/pkg/hash"
	"anvil/pkg/manifest"
)

// DefaultParallelism is the worker pool size used when the caller does
// not configure one.
const DefaultParallelism = 4

// BuildFailed wraps an action-level error raised while realizing hash.
type BuildFailed struct {
	Hash hash.ObjectHash
	Err  error
}

func (e *BuildFailed) Error() string { return fmt.Sprintf("build %s failed: %v", e.Hash, e.Err) }
func (e *BuildFailed) Unwrap() error { return e.Err }

// Result is the structured outcome of one Realize call.
type Result struct {
	Realized []hash.ObjectHash
	Cached   []hash.ObjectHash
	Skipped  []hash.ObjectHash
	Failed   *BuildFailed
}

// Engine realizes builds from a manifest against a store root.
type Engine struct {
	Root        store.Root
	Parallelism int
	Logger      *slog.Logger
	ScratchRoot string // defaults to Root.Path/tmp
	Metrics     *metrics.Recorder // optional; nil disables recording

	mu      deadlock.Mutex
	pending map[hash.ObjectHash]*pendingBuild
}

type pendingBuild struct {
	done chan struct{}
	err  error
}

// New builds an Engine; parallelism <= 0 uses DefaultParallelism.
func New(root store.Root, parallelism int, logger *slog.Logger) *Engine {
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		Root:        root,
		Parallelism: parallelism,
		Logger:      logger,
		ScratchRoot: filepath.Join(root.Path, "tmp"),
		pending:     map[hash.ObjectHash]*pendingBuild{},
	}
}

// Realize realizes every build hash in toRealize (already filtered by the
// diff engine), in dependency order, with up to e.Parallelism running
// concurrently. cached is reported back verbatim for the result summary.
func (e *Engine) Realize(ctx context.Context, m *manifest.Manifest, toRealize, cached []hash.ObjectHash) (*Result, error) {
	result := &Result{Cached: cached}

	graph := newDepGraph(m, toRealize)
	failed := map[hash.ObjectHash]bool{}
	skipped := map[hash.ObjectHash]bool{}

	sem := make(chan struct{}, e.Parallelism)
	type outcome struct {
		h   hash.ObjectHash
		err error
	}
	// Buffered so a finished worker can release its semaphore slot even
	// while this loop is blocked acquiring a slot for the next ready build.
	results := make(chan outcome, len(toRealize))
	inFlight := 0

	markSkipped := func(h hash.ObjectHash) {
		for _, dep := range graph.dependents[h] {
			if !skipped[dep] && !failed[dep] {
				skipped[dep] = true
				markSkippedTransitively(graph, dep, skipped)
			}
		}
	}

	for graph.hasWork() {
		ready := graph.ready(skipped, failed)
		if len(ready) == 0 && inFlight == 0 {
			break
		}
		for _, h := range ready {
			graph.markStarted(h)
			h := h
			sem <- struct{}{}
			inFlight++
			go func() {
				defer func() { <-sem }()
				err := e.realizeOne(ctx, m, h)
				results <- outcome{h: h, err: err}
			}()
		}
		if inFlight == 0 {
			continue
		}
		out := <-results
		inFlight--
		graph.markDone(out.h)
		if out.err != nil {
			failed[out.h] = true
			markSkipped(out.h)
			if result.Failed == nil {
				result.Failed = &BuildFailed{Hash: out.h, Err: out.err}
			}
			continue
		}
		result.Realized = append(result.Realized, out.h)
	}

	for h := range skipped {
		result.Skipped = append(result.Skipped, h)
	}
	return result, nil
}

func markSkippedTransitively(graph *depGraph, h hash.ObjectHash, skipped map[hash.ObjectHash]bool) {
	for _, dep := range graph.dependents[h] {
		if !skipped[dep] {
			skipped[dep] = true
			markSkippedTransitively(graph, dep, skipped)
		}
	}
}

// realizeOne performs the at-most-one-concurrent-realization-per-hash
// protocol and, for the realizing goroutine, the full build protocol.
func (e *Engine) realizeOne(ctx context.Context, m *manifest.Manifest, h hash.ObjectHash) error {
	e.mu.Lock()
	if pb, ok := e.pending[h]; ok {
		e.mu.Unlock()
		<-pb.done
		return pb.err
	}
	pb := &pendingBuild{done: make(chan struct{})}
	e.pending[h] = pb
	e.mu.Unlock()

	defer func() {
		close(pb.done)
	}()

	if e.Root.HasObject(h) {
		return nil
	}

	def, ok := m.Builds[h]
	if !ok {
		pb.err = fmt.Errorf("build %s not present in manifest", h)
		return pb.err
	}

	pb.err = e.realizeBuild(ctx, h, def)
	return pb.err
}

func (e *Engine) realizeBuild(ctx context.Context, h hash.ObjectHash, def manifest.BuildDef) (err error) {
	started := time.Now()
	defer func() {
		if e.Metrics != nil {
			e.Metrics.BuildDuration(time.Since(started))
			if err != nil {
				e.Metrics.BuildOutcome("failed")
			} else {
				e.Metrics.BuildOutcome("realized")
			}
		}
	}()

	scratch := filepath.Join(e.ScratchRoot, fmt.Sprintf("build-%s", h))
	outDir := filepath.Join(scratch, "out")
	tmpDir := filepath.Join(scratch, "tmp")
	defer os.RemoveAll(scratch)

	bctx, buildErr := sandbox.NewContext(outDir, tmpDir)
	if buildErr != nil {
		return &BuildFailed{Hash: h, Err: buildErr}
	}

	for i, action := range def.Actions {
		if actionErr := runAction(ctx, bctx, action, e.Metrics); actionErr != nil {
			return &BuildFailed{Hash: h, Err: fmt.Errorf("action %d (%s): %w", i, action.Kind, actionErr)}
		}
	}

	if err := fsutil.PromoteDir(outDir, e.Root.ObjectPath(h)); err != nil {
		return &BuildFailed{Hash: h, Err: fmt.Errorf("promote output: %w", err)}
	}
	if err := writeCompletionMarker(e.Root, h, def.NormalizedOutputs()); err != nil {
		return &BuildFailed{Hash: h, Err: fmt.Errorf("write completion marker: %w", err)}
	}
	if err := fsutil.MakeTreeReadOnly(e.Root.ObjectPath(h)); err != nil {
		e.Logger.Warn("failed to make build output read-only", slog.String("hash", string(h)), slog.Any("err", err))
	}

	e.Logger.Info("realized build", slog.String("hash", string(h)), slog.String("name", def.Name))
	return nil
}
