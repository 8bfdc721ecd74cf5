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

package store

import (
	"fmt"
	"os"
	"syscall"
)

// Lock holds an advisory exclusive lock on the store root for the duration
// of one apply. Concurrent-apply semantics resolve as "fail fast, no
// timeout" rather than queue.
type Lock struct {
	file *os.File
}

// ErrStoreLocked means another process already holds the store root lock.
var ErrStoreLocked = fmt.Errorf("store root is locked by another process")

// AcquireLock takes the advisory lock at r.LockFilePath(), failing
// immediately (rather than blocking) if another process holds it.
func (r Root) AcquireLock() (*Lock, error) {
	if err := os.MkdirAll(r.Path, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir store root: %w", err)
	}
	f, err := os.OpenFile(r.LockFilePath(), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if err == syscall.EWOULDBLOCK {
			return nil, ErrStoreLocked
		}
		return nil, fmt.Errorf("flock: %w", err)
	}
	return &Lock{file: f}, nil
}

// Release drops the lock.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		_ = l.file.Close()
		return fmt.Errorf("unlock: %w", err)
	}
	return l.file.Close()
}
