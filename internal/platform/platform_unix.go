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

//go:build unix

package platform

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"anvil/pkg/actions"
)

func elevated() bool { return os.Geteuid() == 0 }

func userStoreRoot(home string) string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "anvil")
	}
	return filepath.Join(home, ".local", "share", "anvil")
}

func systemStoreRoot() string { return "/var/lib/anvil" }

// CreateLink realizes a Link action's src/dst pair. On POSIX, Junction has
// no native equivalent and is treated as Symlink; Copy duplicates the
// target's bytes instead of linking.
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
			return fmt.Errorf("symlink %s -> %s: %w", dst, src, err)
		}
		return nil
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open link source: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat link source: %w", err)
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("create link dest: %w", err)
	}
	defer out.Close()

	buf := make([]byte, 32*1024)
	for {
		n, rerr := in.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return fmt.Errorf("copy link contents: %w", werr)
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				break
			}
			return fmt.Errorf("copy link contents: %w", rerr)
		}
		if n == 0 {
			break
		}
	}
	return nil
}
