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

//go:build windows

package sandbox

import (
	"fmt"
	"os"
	"sort"
)

// windowsAllowList are the variables a sandboxed process still needs to
// locate its own DLLs and the shell interpreter. Everything else is cleared.
var windowsAllowList = []string{"SystemRoot", "SYSTEMDRIVE", "WINDIR", "COMSPEC", "PATHEXT"}

func sandboxEnv(outDir, tmpDir string, extra map[string]string) []string {
	values := map[string]string{
		"PATH":              PathSentinel,
		"HOME":              HomeSentinel,
		"TMPDIR":            tmpDir,
		"TMP":               tmpDir,
		"TEMP":              tmpDir,
		"TEMPDIR":           tmpDir,
		"out":               outDir,
		"LANG":              "C",
		"LC_ALL":            "C",
		"SOURCE_DATE_EPOCH": SourceDateEpoch,
	}
	for _, name := range windowsAllowList {
		if v, ok := os.LookupEnv(name); ok {
			values[name] = v
		}
	}
	for k, v := range extra {
		values[k] = v
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, fmt.Sprintf("%s=%s", k, values[k]))
	}
	return env
}

func interpreterFor(format string) (interp, ext string, err error) {
	switch format {
	case "powershell":
		return "powershell.exe", ".ps1", nil
	case "cmd":
		return "cmd.exe", ".bat", nil
	default:
		return "", "", fmt.Errorf("script format %q is not supported on this platform", format)
	}
}

func writeScriptFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
