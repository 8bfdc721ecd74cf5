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

package sandbox

import (
	"io/fs"
	"os"
)

// applyMode chmods target to mode on POSIX. A nil mode is a no-op since
// WriteFile already applied a default permission at create time.
func applyMode(target string, mode *fs.FileMode) {
	if mode == nil {
		return
	}
	_ = os.Chmod(target, *mode)
}

// applyTarMode restores a tar entry's permission bits on POSIX.
func applyTarMode(target string, mode int64) {
	_ = os.Chmod(target, os.FileMode(mode&0o777))
}
