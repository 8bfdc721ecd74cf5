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

package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// Cmd runs name with args inside the sandboxed environment: PATH and HOME
// pinned to nonexistent sentinels, TMPDIR/out redirected into this build's
// directories, and the reproducibility variables fixed. Caller-supplied
// env is merged last, so it can override sandbox defaults (discouraged,
// not forbidden). Returns stdout, trimmed, on success.
func (c *Context) Cmd(ctx context.Context, name string, args []string, env map[string]string, cwd string) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	runDir := c.OutDir
	if cwd != "" {
		resolved, err := c.resolvePath(cwd)
		if err != nil {
			return "", err
		}
		runDir = resolved
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = runDir
	cmd.Env = sandboxEnv(c.OutDir, c.TmpDir, env)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return strings.TrimSpace(stdout.String()), nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return "", &CmdFailed{Cmd: name, Args: args, Code: exitErr.ExitCode(), Stderr: strings.TrimSpace(stderr.String())}
	}
	return "", fmt.Errorf("cmd %s: %w", name, err)
}

// Script renders content through interpreter format and runs it under the
// same sandbox as Cmd, using a temp script file in TmpDir.
func (c *Context) Script(ctx context.Context, format string, content string, env map[string]string, cwd string) (string, error) {
	interp, ext, err := interpreterFor(format)
	if err != nil {
		return "", err
	}
	scriptPath := filepath.Join(c.TmpDir, "script"+ext)
	if err := writeScriptFile(scriptPath, content); err != nil {
		return "", fmt.Errorf("script: %w", err)
	}
	return c.Cmd(ctx, interp, []string{scriptPath}, env, cwd)
}
