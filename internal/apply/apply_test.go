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

package apply

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"anvil/internal/bind"
	"anvil/internal/inputs"
	"anvil/internal/store"
	"anvil/pkg/actions"
	"anvil/pkg/hash"
	"anvil/pkg/manifest"
)

var errFailingBind = errors.New("bind always fails")

func writeConfig(t *testing.T, dir string, m *manifest.Manifest) string {
	t.Helper()
	data, err := json.Marshal(m)
	require.NoError(t, err)
	path := filepath.Join(dir, "anvil.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func newOrchestrator(t *testing.T, configPath string) *Orchestrator {
	t.Helper()
	root := store.NewRoot(t.TempDir())
	o, err := New(root, configPath, bind.NewRegistry(), nil)
	require.NoError(t, err)
	return o
}

// TestApply_MinimalBind covers S1: a single mkdir bind, applied twice.
func TestApply_MinimalBind(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "x")

	m := manifest.New()
	_, err := m.AddBind(manifest.BindDef{
		ID:             "x",
		Inputs:         manifest.String("x"),
		CreateActions:  []actions.Action{{Kind: actions.KindMkdir, Mkdir: &actions.Mkdir{Path: target}}},
		DestroyActions: []actions.Action{},
	})
	require.NoError(t, err)

	configPath := writeConfig(t, dir, m)
	o := newOrchestrator(t, configPath)

	result, err := o.Apply(context.Background(), configPath, inputs.UpdateMode{})
	require.NoError(t, err)
	require.Equal(t, []string{"id:x"}, result.BindsCreated)
	require.Empty(t, result.BuildsRealized)
	info, statErr := os.Stat(target)
	require.NoError(t, statErr)
	require.True(t, info.IsDir())

	second, err := o.Apply(context.Background(), configPath, inputs.UpdateMode{})
	require.NoError(t, err)
	require.Empty(t, second.BindsCreated)
	require.Equal(t, []string{"id:x"}, second.BindsUnchanged)
}

// TestApply_BuildThenBind covers S2: a build feeds a bind's Link source.
func TestApply_BuildThenBind(t *testing.T) {
	dir := t.TempDir()
	root := store.NewRoot(t.TempDir())

	build := manifest.BuildDef{
		Name:   "hello",
		Inputs: manifest.String("hello"),
		Actions: []actions.Action{{
			Kind:      actions.KindWriteFile,
			WriteFile: &actions.WriteFile{Path: "hello", Content: []byte("hi")},
		}},
	}
	buildHash, err := build.Hash()
	require.NoError(t, err)

	m := manifest.New()
	_, err = m.AddBuild(build)
	require.NoError(t, err)

	dst := filepath.Join(dir, "hello-out")
	_, err = m.AddBind(manifest.BindDef{
		ID:     "hello-link",
		Inputs: manifest.RefBuild(buildHash),
		CreateActions: []actions.Action{{
			Kind: actions.KindLink,
			Link: &actions.Link{Src: filepath.Join(root.ObjectPath(buildHash), "hello"), Dst: dst, Kind: actions.LinkCopy},
		}},
		DestroyActions: []actions.Action{},
	})
	require.NoError(t, err)

	configPath := writeConfig(t, dir, m)
	o, err := New(root, configPath, bind.NewRegistry(), nil)
	require.NoError(t, err)

	result, err := o.Apply(context.Background(), configPath, inputs.UpdateMode{})
	require.NoError(t, err)
	require.Equal(t, buildHash, result.BuildsRealized[0])
	require.Equal(t, []string{"id:hello-link"}, result.BindsCreated)

	content, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "hi", string(content))

	second, err := o.Apply(context.Background(), configPath, inputs.UpdateMode{})
	require.NoError(t, err)
	require.Empty(t, second.BuildsRealized)
	require.Equal(t, buildHash, second.BuildsCached[0])
}

// TestApply_MultiBuildParallelism covers S3.
func TestApply_MultiBuildParallelism(t *testing.T) {
	dir := t.TempDir()
	root := store.NewRoot(t.TempDir())

	m := manifest.New()
	var hashes []hash.ObjectHash
	for _, content := range []string{"one", "two"} {
		b := manifest.BuildDef{
			Name:    content,
			Inputs:  manifest.String(content),
			Actions: []actions.Action{{Kind: actions.KindWriteFile, WriteFile: &actions.WriteFile{Path: "f", Content: []byte(content)}}},
		}
		h, err := b.Hash()
		require.NoError(t, err)
		_, err = m.AddBuild(b)
		require.NoError(t, err)
		hashes = append(hashes, h)
	}

	configPath := writeConfig(t, dir, m)
	o, err := New(root, configPath, bind.NewRegistry(), nil)
	require.NoError(t, err)

	result, err := o.Apply(context.Background(), configPath, inputs.UpdateMode{})
	require.NoError(t, err)
	require.Len(t, result.BuildsRealized, 2)
	for _, h := range hashes {
		require.True(t, root.HasObject(h))
	}
}

// TestApply_UpdateBind covers S5.
func TestApply_UpdateBind(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh for the destroy half of the update fallback")
	}
	dir := t.TempDir()
	root := store.NewRoot(t.TempDir())
	target := filepath.Join(dir, "v")

	buildManifest := func(content string) *manifest.Manifest {
		m := manifest.New()
		_, err := m.AddBind(manifest.BindDef{
			ID:             "v",
			Inputs:         manifest.String(content),
			CreateActions:  []actions.Action{{Kind: actions.KindWriteFile, WriteFile: &actions.WriteFile{Path: target, Content: []byte(content)}}},
			DestroyActions: []actions.Action{{Kind: actions.KindCmd, Cmd: &actions.Cmd{Cmd: "/bin/sh", Args: []string{"-c", "rm -f " + target}}}},
		})
		require.NoError(t, err)
		return m
	}

	configPath := writeConfig(t, dir, buildManifest("v1"))
	o, err := New(root, configPath, bind.NewRegistry(), nil)
	require.NoError(t, err)

	_, err = o.Apply(context.Background(), configPath, inputs.UpdateMode{})
	require.NoError(t, err)
	content, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "v1", string(content))

	configPath = writeConfig(t, dir, buildManifest("v2"))
	result, err := o.Apply(context.Background(), configPath, inputs.UpdateMode{})
	require.NoError(t, err)
	require.Equal(t, []string{"id:v"}, result.BindsUpdated)

	content, err = os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "v2", string(content))
}

// TestApply_RollbackOnUpdateFailure covers the update half of S4/Invariant
// 8: an update that already succeeded in this run is rolled back to its
// pre-run definition when a later, dependent bind fails.
func TestApply_RollbackOnUpdateFailure(t *testing.T) {
	dir := t.TempDir()
	root := store.NewRoot(t.TempDir())
	target := filepath.Join(dir, "v")

	vDef := func(content string) manifest.BindDef {
		return manifest.BindDef{
			ID:             "v",
			Inputs:         manifest.String(content),
			CreateActions:  []actions.Action{{Kind: actions.KindWriteFile, WriteFile: &actions.WriteFile{Path: target, Content: []byte(content)}}},
			DestroyActions: []actions.Action{{Kind: actions.KindOpaque, Opaque: &actions.Opaque{Name: "remove_file", Payload: map[string]any{"path": target}}}},
		}
	}

	m1 := manifest.New()
	_, err := m1.AddBind(vDef("v1"))
	require.NoError(t, err)
	configPath := writeConfig(t, dir, m1)

	registry := bind.NewRegistry()
	registry.Register("remove_file", func(ctx context.Context, payload map[string]any) (map[string]any, error) {
		return nil, os.Remove(payload["path"].(string))
	})
	registry.Register("always_fails", func(ctx context.Context, payload map[string]any) (map[string]any, error) {
		return nil, errFailingBind
	})
	o, err := New(root, configPath, registry, nil)
	require.NoError(t, err)

	_, err = o.Apply(context.Background(), configPath, inputs.UpdateMode{})
	require.NoError(t, err)
	content, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "v1", string(content))

	vHash, err := vDef("v2").Hash()
	require.NoError(t, err)

	m2 := manifest.New()
	_, err = m2.AddBind(vDef("v2"))
	require.NoError(t, err)
	// "dependent" refs v, so the diff's topological order runs v's update
	// before dependent's create, matching S4/Invariant 8's "applied earlier
	// in the same run" requirement.
	_, err = m2.AddBind(manifest.BindDef{
		ID:             "dependent",
		Inputs:         manifest.RefBind(vHash),
		CreateActions:  []actions.Action{{Kind: actions.KindOpaque, Opaque: &actions.Opaque{Name: "always_fails"}}},
		DestroyActions: []actions.Action{},
	})
	require.NoError(t, err)
	configPath2 := writeConfig(t, dir, m2)

	result, err := o.Apply(context.Background(), configPath2, inputs.UpdateMode{})
	require.Error(t, err)
	require.True(t, result.RolledBack)

	content, err = os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "v1", string(content), "the update must be reversed back to its pre-run content, not left at v2")
}

// TestApply_BuildFailureSkipsBind covers S6: a failing build aborts before
// any bind runs, and the snapshot is not advanced.
func TestApply_BuildFailureSkipsBind(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix sandbox shape only")
	}
	dir := t.TempDir()
	root := store.NewRoot(t.TempDir())
	target := filepath.Join(dir, "should-not-exist")

	failing := manifest.BuildDef{
		Name:    "failing",
		Inputs:  manifest.String("fails"),
		Actions: []actions.Action{{Kind: actions.KindCmd, Cmd: &actions.Cmd{Cmd: "/bin/sh", Args: []string{"-c", "exit 1"}}}},
	}
	failHash, err := failing.Hash()
	require.NoError(t, err)

	m := manifest.New()
	_, err = m.AddBuild(failing)
	require.NoError(t, err)
	_, err = m.AddBind(manifest.BindDef{
		ID:             "dependent",
		Inputs:         manifest.RefBuild(failHash),
		CreateActions:  []actions.Action{{Kind: actions.KindMkdir, Mkdir: &actions.Mkdir{Path: target}}},
		DestroyActions: []actions.Action{},
	})
	require.NoError(t, err)

	configPath := writeConfig(t, dir, m)
	o, err := New(root, configPath, bind.NewRegistry(), nil)
	require.NoError(t, err)

	_, err = o.Apply(context.Background(), configPath, inputs.UpdateMode{})
	require.Error(t, err)
	_, statErr := os.Stat(target)
	require.True(t, os.IsNotExist(statErr))

	_, err = o.Snapshots.Current()
	require.Error(t, err)
}

// TestApply_RollbackOnBindFailure covers S4: a later bind's create action
// fails, and an earlier bind applied in the same run is rolled back.
func TestApply_RollbackOnBindFailure(t *testing.T) {
	dir := t.TempDir()
	root := store.NewRoot(t.TempDir())
	target := filepath.Join(dir, "a")

	m := manifest.New()
	_, err := m.AddBind(manifest.BindDef{
		ID:             "a",
		Inputs:         manifest.String("a"),
		CreateActions:  []actions.Action{{Kind: actions.KindMkdir, Mkdir: &actions.Mkdir{Path: target}}},
		DestroyActions: []actions.Action{{Kind: actions.KindOpaque, Opaque: &actions.Opaque{Name: "remove_dir", Payload: map[string]any{"path": target}}}},
	})
	require.NoError(t, err)

	configPath := writeConfig(t, dir, m)
	registry := bind.NewRegistry()
	registry.Register("remove_dir", func(ctx context.Context, payload map[string]any) (map[string]any, error) {
		return nil, os.Remove(payload["path"].(string))
	})
	registry.Register("always_fails", func(ctx context.Context, payload map[string]any) (map[string]any, error) {
		return nil, errFailingBind
	})
	o, err := New(root, configPath, registry, nil)
	require.NoError(t, err)

	_, err = o.Apply(context.Background(), configPath, inputs.UpdateMode{})
	require.NoError(t, err)
	_, statErr := os.Stat(target)
	require.NoError(t, statErr)

	m2 := manifest.New()
	_, err = m2.AddBind(manifest.BindDef{
		ID:             "b",
		Inputs:         manifest.String("b"),
		CreateActions:  []actions.Action{{Kind: actions.KindOpaque, Opaque: &actions.Opaque{Name: "always_fails"}}},
		DestroyActions: []actions.Action{},
	})
	require.NoError(t, err)
	configPath2 := writeConfig(t, dir, m2)

	result, err := o.Apply(context.Background(), configPath2, inputs.UpdateMode{})
	require.Error(t, err)
	require.True(t, result.RolledBack)

	_, statErr = os.Stat(target)
	require.NoError(t, statErr, "bind a must be restored after rollback")
}
