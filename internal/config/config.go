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

// Package config resolves the handful of process-wide settings the apply
// orchestrator needs before it can start: store root, worker parallelism,
// and log level. Precedence is flag > env > default.
package config

import (
	"fmt"
	"os"
	"strconv"

	"anvil/internal/engine"
	"anvil/internal/platform"
)

// Env variable names. StoreRootEnv exists specifically so tests (and
// users who want a non-default location) can redirect the store without
// touching platform.Info.
const (
	StoreRootEnv   = "ANVIL_STORE_ROOT"
	ParallelismEnv = "ANVIL_PARALLELISM"
	LogLevelEnv    = "ANVIL_LOG_LEVEL"
)

// Config is the resolved set of process-wide settings.
type Config struct {
	StoreRoot   string
	Parallelism int
	LogLevel    string
	Elevated    bool
}

// Flags carries the subset of Config a CLI command may override on the
// command line. Zero values mean "not set, fall through to env/default".
type Flags struct {
	StoreRoot   string
	Parallelism int
	LogLevel    string
}

// Resolve layers Flags over the environment over the platform default,
// using plat to pick between the user and system store root by
// elevation.
func Resolve(flags Flags, plat platform.Info) (Config, error) {
	cfg := Config{
		Parallelism: engine.DefaultParallelism,
		LogLevel:    "info",
		Elevated:    plat.Elevated(),
	}

	root, err := defaultStoreRoot(plat, cfg.Elevated)
	if err != nil {
		return Config{}, fmt.Errorf("resolve default store root: %w", err)
	}
	cfg.StoreRoot = root

	if v := os.Getenv(StoreRootEnv); v != "" {
		cfg.StoreRoot = v
	}
	if v := os.Getenv(ParallelismEnv); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid %s: %q must be a positive integer", ParallelismEnv, v)
		}
		cfg.Parallelism = n
	}
	if v := os.Getenv(LogLevelEnv); v != "" {
		cfg.LogLevel = v
	}

	if flags.StoreRoot != "" {
		cfg.StoreRoot = flags.StoreRoot
	}
	if flags.Parallelism > 0 {
		cfg.Parallelism = flags.Parallelism
	}
	if flags.LogLevel != "" {
		cfg.LogLevel = flags.LogLevel
	}

	return cfg, nil
}

func defaultStoreRoot(plat platform.Info, elevated bool) (string, error) {
	if elevated {
		return plat.SystemStoreRoot()
	}
	return plat.UserStoreRoot()
}
