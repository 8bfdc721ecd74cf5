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

package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"anvil/internal/fsutil"
	"anvil/internal/store"
	"anvil/pkg/hash"
)

// completionMarker is written on successful promotion so a future run's
// cache lookup (store.Root.HasObject) can tell a fully-realized build
// apart from a crash-interrupted one.
type completionMarker struct {
	Outputs     []string  `json:"outputs"`
	CompletedAt time.Time `json:"completed_at"`
}

func writeCompletionMarker(root store.Root, h hash.ObjectHash, outputs []string) error {
	marker := completionMarker{Outputs: outputs, CompletedAt: time.Now().UTC()}
	data, err := json.Marshal(marker)
	if err != nil {
		return fmt.Errorf("marshal completion marker: %w", err)
	}
	return fsutil.WriteAtomic(root.CompletionMarkerPath(h), data, 0o644)
}
