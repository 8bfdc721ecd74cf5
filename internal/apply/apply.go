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

// Package apply drives the full flow a `apply`/`plan`/`destroy` CLI
// invocation wraps: resolve inputs, evaluate the script into a manifest,
// diff against the current snapshot, realize builds, apply binds in
// dependency order, roll back on failure, and write the new snapshot.
package apply

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	goerrors "github.com/go-errors/errors"

	"anvil/internal/bind"
	"anvil/internal/diffengine"
	"anvil/internal/engine"
	"anvil/internal/fsutil"
	"anvil/internal/inputs"
	"anvil/internal/metrics"
	"anvil/internal/snapshot"
	"anvil/internal/store"
	"anvil/pkg/hash"
	"anvil/pkg/manifest"
)

// sourcesDocument is the optional top-level "sources" section a config
// file may carry alongside its builds/bindings, naming the raw git:/path:
// references the input resolver locks before the manifest is evaluated.
// manifest.JSONFileEvaluator ignores unknown top-level keys, so the same
// file serves both readers.
type sourcesDocument struct {
	Sources map[string]string `json:"sources,omitempty"`
}

func readSources(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var doc sourcesDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse sources from %s: %w", path, err)
	}
	return doc.Sources, nil
}

// BindFailed means a bind's create/update action sequence returned an
// error; this is fatal to the apply and triggers rollback.
type BindFailed struct {
	Identity string
	Err      error
}

func (e *BindFailed) Error() string { return fmt.Sprintf("bind %s failed: %v", e.Identity, e.Err) }
func (e *BindFailed) Unwrap() error { return e.Err }

// RollbackEntry records one bind's reversal action so a failed apply can
// collect per-bind rollback errors without aborting the rest of the
// rollback.
type RollbackEntry struct {
	Identity string
	Err      error
}

// Result is the counts and identifiers an apply/plan/destroy run reports,
// matching the counters a caller reports after an apply (builds_realized, etc).
type Result struct {
	BuildsRealized []hash.ObjectHash
	BuildsCached   []hash.ObjectHash
	BuildsSkipped  []hash.ObjectHash

	BindsCreated   []string
	BindsUpdated   []string
	BindsDestroyed []string
	BindsUnchanged []string

	SnapshotID string

	RolledBack  bool
	RollbackLog []RollbackEntry
}

// Orchestrator wires together every component the full flow touches.
type Orchestrator struct {
	Root      store.Root
	Evaluator manifest.Evaluator
	Resolver  *inputs.Resolver
	Lock      *inputs.LockFile
	LockPath  string
	Engine    *engine.Engine
	Binds     *bind.Registry
	Snapshots *snapshot.Store
	Metrics   *metrics.Recorder
	Logger    *slog.Logger
}

// New builds an Orchestrator with the default per-component wiring for
// root, given a config file path to resolve the lock file next to.
func New(root store.Root, configPath string, binds *bind.Registry, logger *slog.Logger) (*Orchestrator, error) {
	return NewWithParallelism(root, configPath, binds, engine.DefaultParallelism, logger)
}

// NewWithParallelism is New with an explicit build worker count, for
// callers (the CLI's --parallelism flag, internal/config) that resolve
// parallelism before constructing the orchestrator.
func NewWithParallelism(root store.Root, configPath string, binds *bind.Registry, parallelism int, logger *slog.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := root.EnsureLayout(); err != nil {
		return nil, err
	}
	lockPath := filepath.Join(filepath.Dir(configPath), "syslua.lock")
	lf, err := inputs.LoadLockFile(lockPath)
	if err != nil {
		return nil, err
	}
	rec := metrics.New()
	eng := engine.New(root, parallelism, logger)
	eng.Metrics = rec
	if binds == nil {
		binds = bind.NewRegistry()
	}
	return &Orchestrator{
		Root:      root,
		Evaluator: manifest.JSONFileEvaluator{},
		Resolver:  inputs.NewResolver(root.InputsDir(), lf, logger),
		Lock:      lf,
		LockPath:  lockPath,
		Engine:    eng,
		Binds:     binds,
		Snapshots: snapshot.NewStore(root),
		Metrics:   rec,
		Logger:    logger,
	}, nil
}

// evaluate resolves every declared source and evaluates configPath into a
// Manifest. Any input-resolution or script-evaluation error aborts before
// any side effect runs.
func (o *Orchestrator) evaluate(ctx context.Context, configPath string, mode inputs.UpdateMode) (*manifest.Manifest, error) {
	sources, err := readSources(configPath)
	if err != nil {
		return nil, err
	}
	for _, name := range sortedKeys(sources) {
		if _, err := o.Resolver.Resolve(ctx, name, sources[name], mode); err != nil {
			return nil, fmt.Errorf("resolve input %q: %w", name, err)
		}
	}
	if len(sources) > 0 {
		if err := o.Lock.Save(o.LockPath); err != nil {
			return nil, fmt.Errorf("save lock file: %w", err)
		}
	}

	m, err := o.Evaluator.Evaluate(ctx, configPath)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}

// Plan evaluates configPath, diffs it against the current snapshot, and
// persists the evaluated manifest under plans/<hash>/manifest.json without
// realizing or applying anything.
func (o *Orchestrator) Plan(ctx context.Context, configPath string) (*manifest.Manifest, diffengine.Diff, error) {
	m, err := o.evaluate(ctx, configPath, inputs.UpdateMode{})
	if err != nil {
		return nil, diffengine.Diff{}, err
	}

	prev, err := o.previousManifest()
	if err != nil {
		return nil, diffengine.Diff{}, err
	}
	d := diffengine.Compute(m, prev, o.Root)

	mh, err := m.Hash()
	if err != nil {
		return nil, diffengine.Diff{}, fmt.Errorf("hash manifest: %w", err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, diffengine.Diff{}, fmt.Errorf("marshal manifest: %w", err)
	}
	planPath := o.Root.PlanManifestPath(mh)
	if err := os.MkdirAll(filepath.Dir(planPath), 0o755); err != nil {
		return nil, diffengine.Diff{}, fmt.Errorf("ensure plan dir: %w", err)
	}
	if err := fsutil.WriteAtomic(planPath, data, 0o644); err != nil {
		return nil, diffengine.Diff{}, fmt.Errorf("write plan manifest: %w", err)
	}
	return m, d, nil
}

func (o *Orchestrator) previousManifest() (*diffengine.PreviousManifest, error) {
	cur, err := o.Snapshots.Current()
	if err != nil {
		if err == snapshot.ErrNoCurrent {
			return nil, nil
		}
		return nil, err
	}
	return &diffengine.PreviousManifest{Manifest: cur.Manifest}, nil
}

// Apply runs the full resolve -> evaluate -> diff -> realize -> bind ->
// snapshot flow. On any bind failure it rolls back everything this run
// applied, in reverse order, before returning.
func (o *Orchestrator) Apply(ctx context.Context, configPath string, mode inputs.UpdateMode) (*Result, error) {
	m, err := o.evaluate(ctx, configPath, mode)
	if err != nil {
		return nil, goerrors.Wrap(err, 0)
	}

	prevSnap, err := o.Snapshots.Current()
	hadPrev := true
	if err != nil {
		if err != snapshot.ErrNoCurrent {
			return nil, goerrors.Wrap(err, 0)
		}
		hadPrev = false
	}
	var prev *diffengine.PreviousManifest
	if hadPrev {
		prev = &diffengine.PreviousManifest{Manifest: prevSnap.Manifest}
	}
	d := diffengine.Compute(m, prev, o.Root)

	result := &Result{BuildsCached: d.Cached}

	engResult, err := o.Engine.Realize(ctx, m, d.ToRealize, d.Cached)
	if err != nil {
		return nil, goerrors.Wrap(err, 0)
	}
	result.BuildsRealized = engResult.Realized
	result.BuildsSkipped = engResult.Skipped
	if engResult.Failed != nil {
		return result, goerrors.Wrap(fmt.Errorf("build realization: %w", engResult.Failed), 0)
	}

	bindOutputs := map[string]json.RawMessage{}
	if hadPrev {
		for k, v := range prevSnap.BindOutputs {
			bindOutputs[k] = v
		}
	}

	var applied []appliedBind
	bindErr := o.applyBinds(ctx, d, bindOutputs, &applied, result)
	if bindErr != nil {
		result.RolledBack = true
		result.RollbackLog = o.rollback(ctx, applied)
		return result, goerrors.Wrap(bindErr, 0)
	}

	for _, b := range d.Unchanged {
		result.BindsUnchanged = append(result.BindsUnchanged, b.Identity)
	}

	newSnap := &snapshot.Snapshot{
		ID:          snapshot.NewID(snapshotTime()),
		CreatedAt:   snapshotTime(),
		Manifest:    m,
		BindOutputs: bindOutputs,
	}
	mh, err := m.Hash()
	if err != nil {
		return result, goerrors.Wrap(fmt.Errorf("hash manifest: %w", err), 0)
	}
	newSnap.ManifestHash = mh
	if hadPrev {
		newSnap.ParentID = prevSnap.ID
	}
	if err := o.Snapshots.Write(newSnap); err != nil {
		return result, goerrors.Wrap(fmt.Errorf("write snapshot: %w", err), 0)
	}
	if err := o.Snapshots.Promote(newSnap.ID); err != nil {
		return result, goerrors.Wrap(fmt.Errorf("promote snapshot: %w", err), 0)
	}
	result.SnapshotID = newSnap.ID
	return result, nil
}

// snapshotTime exists as the one seam that would need a clock injected
// for deterministic tests; apply's own tests only assert ordering and
// content, never wall-clock values, so time.Now is fine here.
func snapshotTime() time.Time { return time.Now().UTC() }

type appliedBind struct {
	identity string
	action   string // "create", "update", "destroy"
	prevDef  *manifest.BindDef
	newDef   *manifest.BindDef
}

func (o *Orchestrator) applyBinds(ctx context.Context, d diffengine.Diff, outputs map[string]json.RawMessage, applied *[]appliedBind, result *Result) error {
	for _, b := range d.ToDestroy {
		if _, err := o.Binds.RunSequence(ctx, b.Def.DestroyActions); err != nil {
			return &BindFailed{Identity: b.Identity, Err: err}
		}
		delete(outputs, b.Identity)
		_ = os.Remove(o.Root.BindStatePath(b.Hash))
		if o.Metrics != nil {
			o.Metrics.BindAction("destroy")
		}
		def := b.Def
		*applied = append(*applied, appliedBind{identity: b.Identity, action: "destroy", prevDef: &def})
		result.BindsDestroyed = append(result.BindsDestroyed, b.Identity)
	}

	// ToApply is ToCreate ∪ ToUpdate in one merged topological order: a
	// create depending on an update (or vice versa) must run in the order
	// the diff computed, not bucket-by-bucket.
	for _, b := range d.ToApply {
		def := b.Def
		if b.PrevDef == nil {
			out, err := o.Binds.RunSequence(ctx, b.Def.CreateActions)
			if err != nil {
				return &BindFailed{Identity: b.Identity, Err: err}
			}
			if err := o.persistBindState(b, out, outputs); err != nil {
				return &BindFailed{Identity: b.Identity, Err: err}
			}
			if o.Metrics != nil {
				o.Metrics.BindAction("create")
			}
			*applied = append(*applied, appliedBind{identity: b.Identity, action: "create", newDef: &def})
			result.BindsCreated = append(result.BindsCreated, b.Identity)
			continue
		}

		out, err := o.Binds.RunSequence(ctx, b.Def.EffectiveUpdateActions())
		if err != nil {
			return &BindFailed{Identity: b.Identity, Err: err}
		}
		if err := o.persistBindState(b, out, outputs); err != nil {
			return &BindFailed{Identity: b.Identity, Err: err}
		}
		if o.Metrics != nil {
			o.Metrics.BindAction("update")
		}
		*applied = append(*applied, appliedBind{identity: b.Identity, action: "update", prevDef: b.PrevDef, newDef: &def})
		result.BindsUpdated = append(result.BindsUpdated, b.Identity)
	}

	return nil
}

func (o *Orchestrator) persistBindState(b diffengine.BoundBind, out map[string]any, outputs map[string]json.RawMessage) error {
	raw, err := bind.MarshalOutputs(out)
	if err != nil {
		return fmt.Errorf("marshal bind outputs: %w", err)
	}
	outputs[b.Identity] = raw
	if err := os.MkdirAll(filepath.Dir(o.Root.BindStatePath(b.Hash)), 0o755); err != nil {
		return fmt.Errorf("ensure bind state dir: %w", err)
	}
	return fsutil.WriteAtomic(o.Root.BindStatePath(b.Hash), raw, 0o644)
}

// rollback reverses every applied transaction in reverse order: a create
// is undone by running the new def's destroy actions; an update is undone
// by destroying the new def's state and recreating the previous def's; a
// destroy is undone by re-running the previous def's create actions.
// Per-bind errors are collected, not fatal, so rollback always runs to
// completion.
func (o *Orchestrator) rollback(ctx context.Context, applied []appliedBind) []RollbackEntry {
	var log []RollbackEntry
	for i := len(applied) - 1; i >= 0; i-- {
		a := applied[i]
		var err error
		switch a.action {
		case "create":
			_, err = o.Binds.RunSequence(ctx, a.newDef.DestroyActions)
		case "update":
			// Reverse the update: tear down what the new definition built,
			// then recreate under the definition that was live before this
			// run. Both steps run even if the first returns an error, and
			// the result is the error from whichever step fails (or the
			// destroy error, if both do), so one rollback entry still
			// reflects the destroy side even when recreate also fails.
			_, destroyErr := o.Binds.RunSequence(ctx, a.newDef.DestroyActions)
			_, createErr := o.Binds.RunSequence(ctx, a.prevDef.CreateActions)
			err = destroyErr
			if err == nil {
				err = createErr
			}
		case "destroy":
			_, err = o.Binds.RunSequence(ctx, a.prevDef.CreateActions)
		}
		if err != nil {
			log = append(log, RollbackEntry{Identity: a.identity, Err: err})
			o.Logger.Error("rollback step failed", slog.String("bind", a.identity), slog.Any("err", err))
			continue
		}
		if o.Metrics != nil {
			o.Metrics.BindRolledBack()
		}
	}
	return log
}

// Destroy evaluates configPath to locate the bind identities it declares,
// then destroys every one of those identities present in the current
// snapshot. Builds are left untouched; a destroy never realizes anything.
func (o *Orchestrator) Destroy(ctx context.Context, configPath string) (*Result, error) {
	m, err := o.evaluate(ctx, configPath, inputs.UpdateMode{})
	if err != nil {
		return nil, goerrors.Wrap(err, 0)
	}

	cur, err := o.Snapshots.Current()
	if err != nil {
		if err == snapshot.ErrNoCurrent {
			return &Result{}, nil
		}
		return nil, goerrors.Wrap(err, 0)
	}

	wanted := map[string]bool{}
	for h, def := range m.Bindings {
		wanted[def.Identity(h)] = true
	}

	result := &Result{}
	outputs := map[string]json.RawMessage{}
	for k, v := range cur.BindOutputs {
		outputs[k] = v
	}

	toDestroy := diffengine.Compute(manifest.New(), &diffengine.PreviousManifest{Manifest: cur.Manifest}, o.Root).ToDestroy
	for _, b := range toDestroy {
		if !wanted[b.Identity] {
			continue
		}
		if _, err := o.Binds.RunSequence(ctx, b.Def.DestroyActions); err != nil {
			return result, goerrors.Wrap(&BindFailed{Identity: b.Identity, Err: err}, 0)
		}
		delete(outputs, b.Identity)
		_ = os.Remove(o.Root.BindStatePath(b.Hash))
		if o.Metrics != nil {
			o.Metrics.BindAction("destroy")
		}
		result.BindsDestroyed = append(result.BindsDestroyed, b.Identity)
	}

	remaining := manifest.New()
	for h, def := range cur.Manifest.Bindings {
		if !wanted[def.Identity(h)] {
			remaining.Bindings[h] = def
		}
	}
	for h, def := range cur.Manifest.Builds {
		remaining.Builds[h] = def
	}

	newSnap := &snapshot.Snapshot{
		ID:          snapshot.NewID(snapshotTime()),
		CreatedAt:   snapshotTime(),
		Manifest:    remaining,
		BindOutputs: outputs,
		ParentID:    cur.ID,
	}
	mh, err := remaining.Hash()
	if err != nil {
		return result, goerrors.Wrap(fmt.Errorf("hash manifest: %w", err), 0)
	}
	newSnap.ManifestHash = mh
	if err := o.Snapshots.Write(newSnap); err != nil {
		return result, goerrors.Wrap(fmt.Errorf("write snapshot: %w", err), 0)
	}
	if err := o.Snapshots.Promote(newSnap.ID); err != nil {
		return result, goerrors.Wrap(fmt.Errorf("promote snapshot: %w", err), 0)
	}
	result.SnapshotID = newSnap.ID
	return result, nil
}

// Update re-resolves the named inputs (or every input when names is
// empty) and rewrites the lock file, without evaluating or applying
// anything else.
func (o *Orchestrator) Update(ctx context.Context, configPath string, names []string) error {
	mode := inputs.UpdateMode{All: len(names) == 0}
	if len(names) > 0 {
		mode.Names = map[string]bool{}
		for _, n := range names {
			mode.Names[n] = true
		}
	}
	_, err := o.evaluate(ctx, configPath, mode)
	return err
}
