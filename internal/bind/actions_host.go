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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"anvil/pkg/actions"
)

func runMkdir(m *actions.Mkdir) error {
	perm := fs.FileMode(0o755)
	if m.Mode != nil {
		perm = fs.FileMode(*m.Mode)
	}
	if err := os.MkdirAll(m.Path, perm); err != nil {
		return fmt.Errorf("mkdir %s: %w", m.Path, err)
	}
	if m.Mode != nil {
		_ = os.Chmod(m.Path, perm)
	}
	return nil
}

func runWriteFile(w *actions.WriteFile) error {
	if err := os.MkdirAll(filepath.Dir(w.Path), 0o755); err != nil {
		return fmt.Errorf("write_file %s: %w", w.Path, err)
	}
	perm := fs.FileMode(0o644)
	if w.Mode != nil {
		perm = fs.FileMode(*w.Mode)
	}
	if err := os.WriteFile(w.Path, w.Content, perm); err != nil {
		return fmt.Errorf("write_file %s: %w", w.Path, err)
	}
	return nil
}

func runCmd(ctx context.Context, c *actions.Cmd) error {
	cmd := exec.CommandContext(ctx, c.Cmd, c.Args...)
	cmd.Dir = c.Cwd
	if len(c.Env) > 0 {
		env := os.Environ()
		for k, v := range c.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Errorf("cmd %s exited %d: %s", c.Cmd, exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
	}
	return fmt.Errorf("cmd %s: %w", c.Cmd, err)
}

func runScript(ctx context.Context, s *actions.Script) error {
	interp, args, err := interpreterFor(s.Format)
	if err != nil {
		return err
	}
	full := append(append([]string{}, args...), s.Content)
	return runCmd(ctx, &actions.Cmd{Cmd: interp, Args: full})
}

func interpreterFor(format actions.ScriptFormat) (string, []string, error) {
	switch format {
	case actions.ScriptShell, "":
		return "/bin/sh", []string{"-c"}, nil
	case actions.ScriptBash:
		return "/bin/bash", []string{"-c"}, nil
	case actions.ScriptPowerShell:
		return "powershell.exe", []string{"-Command"}, nil
	case actions.ScriptCmd:
		return "cmd.exe", []string{"/C"}, nil
	default:
		return "", nil, fmt.Errorf("script format %q is not supported", format)
	}
}
