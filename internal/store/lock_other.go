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

//go:build !unix

package store

import (
	"fmt"
	"os"
)

// Lock is a no-op placeholder on non-POSIX platforms: true mandatory
// locking there would need LockFileEx, left for a platform-specific
// follow-up.
type Lock struct{}

// ErrStoreLocked is never returned on this platform.
var ErrStoreLocked = fmt.Errorf("store root is locked by another process")

// AcquireLock always succeeds on non-POSIX platforms.
func (r Root) AcquireLock() (*Lock, error) {
	if err := os.MkdirAll(r.Path, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir store root: %w", err)
	}
	return &Lock{}, nil
}

// Release is a no-op.
func (l *Lock) Release() error { return nil }
