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

package platform

import (
	"fmt"
	"os"
	"path/filepath"

	"anvil/pkg/actions"
)

// elevated always reports false. Detecting an elevated Windows token needs
// OpenProcessToken/GetTokenInformation; left unimplemented until a Windows
// build target actually needs the check.
func elevated() bool { return false }

func userStoreRoot(home string) string {
	if appData := os.Getenv("LOCALAPPDATA"); appData != "" {
		return filepath.Join(appData, "anvil")
	}
	return filepath.Join(home, "AppData", "Local", "anvil")
}

func systemStoreRoot() string {
	if programData := os.Getenv("ProgramData"); programData != "" {
		return filepath.Join(programData, "anvil")
	}
	return `C:\ProgramData\anvil`
}

// CreateLink realizes a Link action. Junction is handled like Symlink:
// both go through os.Symlink, which creates a symbolic link, not an NTFS
// junction. Copy duplicates bytes instead.
func CreateLink(src, dst string, kind actions.LinkKind) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create link parent dir: %w", err)
	}
	switch kind {
	case actions.LinkCopy:
		return copyFile(src, dst)
	default:
		_ = os.Remove(dst)
		if err := os.Symlink(src, dst); err != nil {
			return fmt.Errorf("link %s -> %s: %w", dst, src, err)
		}
		return nil
	}
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read link source: %w", err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("write link dest: %w", err)
	}
	return nil
}
