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

package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakePlatform struct {
	elevated bool
	userRoot string
	sysRoot  string
}

func (f fakePlatform) Elevated() bool                   { return f.elevated }
func (f fakePlatform) UserStoreRoot() (string, error)   { return f.userRoot, nil }
func (f fakePlatform) SystemStoreRoot() (string, error) { return f.sysRoot, nil }

func TestResolve_DefaultsToUserRootWhenNotElevated(t *testing.T) {
	plat := fakePlatform{elevated: false, userRoot: "/home/anvil/.local/share/anvil", sysRoot: "/var/lib/anvil"}
	cfg, err := Resolve(Flags{}, plat)
	require.NoError(t, err)
	require.Equal(t, "/home/anvil/.local/share/anvil", cfg.StoreRoot)
	require.False(t, cfg.Elevated)
	require.Equal(t, "info", cfg.LogLevel)
}

func TestResolve_DefaultsToSystemRootWhenElevated(t *testing.T) {
	plat := fakePlatform{elevated: true, userRoot: "/home/anvil/.local/share/anvil", sysRoot: "/var/lib/anvil"}
	cfg, err := Resolve(Flags{}, plat)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/anvil", cfg.StoreRoot)
	require.True(t, cfg.Elevated)
}

func TestResolve_EnvOverridesDefault(t *testing.T) {
	t.Setenv(StoreRootEnv, "/tmp/custom-store")
	t.Setenv(ParallelismEnv, "8")
	t.Setenv(LogLevelEnv, "debug")

	plat := fakePlatform{userRoot: "/home/anvil/.local/share/anvil"}
	cfg, err := Resolve(Flags{}, plat)
	require.NoError(t, err)
	require.Equal(t, "/tmp/custom-store", cfg.StoreRoot)
	require.Equal(t, 8, cfg.Parallelism)
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestResolve_FlagOverridesEnv(t *testing.T) {
	t.Setenv(StoreRootEnv, "/tmp/custom-store")
	t.Setenv(ParallelismEnv, "8")

	plat := fakePlatform{userRoot: "/home/anvil/.local/share/anvil"}
	cfg, err := Resolve(Flags{StoreRoot: "/tmp/flag-store", Parallelism: 2}, plat)
	require.NoError(t, err)
	require.Equal(t, "/tmp/flag-store", cfg.StoreRoot)
	require.Equal(t, 2, cfg.Parallelism)
}

func TestResolve_InvalidParallelismEnvIsRejected(t *testing.T) {
	t.Setenv(ParallelismEnv, "not-a-number")
	plat := fakePlatform{userRoot: "/home/anvil/.local/share/anvil"}
	_, err := Resolve(Flags{}, plat)
	require.Error(t, err)
}

func TestResolve_NonPositiveParallelismEnvIsRejected(t *testing.T) {
	t.Setenv(ParallelismEnv, "0")
	plat := fakePlatform{userRoot: "/home/anvil/.local/share/anvil"}
	_, err := Resolve(Flags{}, plat)
	require.Error(t, err)
}
