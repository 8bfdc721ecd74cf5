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

package bind

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"anvil/pkg/actions"
)

func TestRegistry_RunMkdirAndWriteFile(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "nested", "leaf")

	r := NewRegistry()
	_, err := r.Run(context.Background(), actions.Action{
		Kind:  actions.KindMkdir,
		Mkdir: &actions.Mkdir{Path: target},
	})
	require.NoError(t, err)
	info, err := os.Stat(target)
	require.NoError(t, err)
	require.True(t, info.IsDir())

	file := filepath.Join(target, "config.txt")
	_, err = r.Run(context.Background(), actions.Action{
		Kind: actions.KindWriteFile,
		WriteFile: &actions.WriteFile{
			Path:    file,
			Content: []byte("hello bind"),
		},
	})
	require.NoError(t, err)
	got, err := os.ReadFile(file)
	require.NoError(t, err)
	require.Equal(t, "hello bind", string(got))
}

func TestRegistry_RunOpaqueDispatchesToExecutor(t *testing.T) {
	r := NewRegistry()
	r.Register("user_account", func(ctx context.Context, payload map[string]any) (map[string]any, error) {
		return map[string]any{"uid": 1000, "name": payload["name"]}, nil
	})

	out, err := r.Run(context.Background(), actions.Action{
		Kind:   actions.KindOpaque,
		Opaque: &actions.Opaque{Name: "user_account", Payload: map[string]any{"name": "anvil"}},
	})
	require.NoError(t, err)
	require.Equal(t, 1000, out["uid"])
	require.Equal(t, "anvil", out["name"])
}

func TestRegistry_RunOpaqueUnregisteredFails(t *testing.T) {
	r := NewRegistry()
	_, err := r.Run(context.Background(), actions.Action{
		Kind:   actions.KindOpaque,
		Opaque: &actions.Opaque{Name: "does_not_exist"},
	})
	require.Error(t, err)
	var target *ErrUnregisteredOpaque
	require.ErrorAs(t, err, &target)
	require.Equal(t, "does_not_exist", target.Name)
}

func TestRegistry_RunSequenceMergesOpaqueOutputs(t *testing.T) {
	r := NewRegistry()
	r.Register("step_a", func(ctx context.Context, payload map[string]any) (map[string]any, error) {
		return map[string]any{"a": 1}, nil
	})
	r.Register("step_b", func(ctx context.Context, payload map[string]any) (map[string]any, error) {
		return map[string]any{"b": 2}, nil
	})

	out, err := r.RunSequence(context.Background(), []actions.Action{
		{Kind: actions.KindOpaque, Opaque: &actions.Opaque{Name: "step_a"}},
		{Kind: actions.KindOpaque, Opaque: &actions.Opaque{Name: "step_b"}},
	})
	require.NoError(t, err)
	require.Equal(t, 1, out["a"])
	require.Equal(t, 2, out["b"])
}

func TestRegistry_RunCmd(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh directly")
	}
	r := NewRegistry()
	_, err := r.Run(context.Background(), actions.Action{
		Kind: actions.KindCmd,
		Cmd:  &actions.Cmd{Cmd: "/bin/sh", Args: []string{"-c", "exit 0"}},
	})
	require.NoError(t, err)

	_, err = r.Run(context.Background(), actions.Action{
		Kind: actions.KindCmd,
		Cmd:  &actions.Cmd{Cmd: "/bin/sh", Args: []string{"-c", "exit 3"}},
	})
	require.Error(t, err)
}

func TestRegistry_RunScript(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh directly")
	}
	r := NewRegistry()
	_, err := r.Run(context.Background(), actions.Action{
		Kind:   actions.KindScript,
		Script: &actions.Script{Format: actions.ScriptShell, Content: "exit 0"},
	})
	require.NoError(t, err)
}

func TestMarshalOutputs_NilBecomesEmptyObject(t *testing.T) {
	raw, err := MarshalOutputs(nil)
	require.NoError(t, err)
	require.JSONEq(t, "{}", string(raw))
}
