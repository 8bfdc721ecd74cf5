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

// Command anvil is the CLI entrypoint: apply/plan/destroy/update/info/init
// subcommands over a JSON configuration file.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"github.com/AlecAivazis/survey/v2"
	"github.com/pmezard/go-difflib/difflib"

	"anvil/internal/apply"
	"anvil/internal/bind"
	"anvil/internal/config"
	"anvil/internal/engine"
	"anvil/internal/inputs"
	"anvil/internal/logging"
	"anvil/internal/platform"
	"anvil/internal/sandbox"
	"anvil/internal/snapshot"
	"anvil/internal/store"
	"anvil/pkg/actions"
	"anvil/pkg/inputsrc"
	"anvil/pkg/manifest"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		usageFail("missing command")
	}

	var (
		storeRoot   string
		parallelism int
		logLevel    string
	)
	globals := flag.NewFlagSet("anvil", flag.ExitOnError)
	globals.StringVar(&storeRoot, "store-root", "", "override the default store root")
	globals.IntVar(&parallelism, "parallelism", 0, "override build worker parallelism")
	globals.StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	cmdName := os.Args[1]
	if cmdName == "init" {
		runInit(os.Args[2:])
		return
	}

	// globals.ErrorHandling() is flag.ExitOnError, so a parse failure here
	// already exits 2 on its own (the flag package's documented behavior).
	args := os.Args[2:]
	_ = globals.Parse(args)
	rest := globals.Args()

	cfg, err := config.Resolve(config.Flags{StoreRoot: storeRoot, Parallelism: parallelism, LogLevel: logLevel}, platform.Default())
	if err != nil {
		fail(err)
	}
	logger := logging.New(cfg.LogLevel)
	slog.SetDefault(logger)

	root := store.NewRoot(cfg.StoreRoot)
	lock, err := root.AcquireLock()
	if err != nil {
		fail(err)
	}
	defer func() { _ = lock.Release() }()

	ctx := context.Background()

	switch cmdName {
	case "apply":
		runApply(ctx, root, logger, cfg.Parallelism, rest)
	case "plan":
		runPlan(ctx, root, logger, cfg.Parallelism, rest)
	case "destroy":
		runDestroy(ctx, root, logger, rest)
	case "update":
		runUpdate(ctx, root, logger, rest)
	case "info":
		runInfo(root, cfg)
	default:
		usage()
		usageFail("unknown command %q", cmdName)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: anvil <command> [--store-root path] [--parallelism n] [--log-level level] [args]

commands:
  apply <file>      full flow: resolve, evaluate, diff, realize, apply binds, snapshot
  plan <file>       evaluate + diff; write a plan under <store>/plans; print counts
  destroy <file>    destroy every bind the file declares that is in the current snapshot
  update <file> [names...]
                    refresh lock entries (all, or just the named inputs)
  info              print platform, store path, and current snapshot id
  init <dir>        scaffold a new configuration directory`)
}

func configPathFrom(rest []string) string {
	if len(rest) < 1 {
		usageFail("missing configuration file")
	}
	return rest[0]
}

func runApply(ctx context.Context, root store.Root, logger *slog.Logger, parallelism int, rest []string) {
	path := configPathFrom(rest)
	o, err := apply.NewWithParallelism(root, path, bind.NewRegistry(), parallelism, logger)
	if err != nil {
		fail(err)
	}
	result, err := o.Apply(ctx, path, inputs.UpdateMode{})
	if err != nil {
		printResult(result)
		if result != nil && result.RolledBack {
			fmt.Fprintln(os.Stderr, "rolled back:")
			for _, entry := range result.RollbackLog {
				fmt.Fprintf(os.Stderr, "  %s: %v\n", entry.Identity, entry.Err)
			}
		}
		fail(err)
	}
	printResult(result)
}

func runPlan(ctx context.Context, root store.Root, logger *slog.Logger, parallelism int, rest []string) {
	path := configPathFrom(rest)
	o, err := apply.NewWithParallelism(root, path, bind.NewRegistry(), parallelism, logger)
	if err != nil {
		fail(err)
	}

	var before string
	if cur, err := o.Snapshots.Current(); err == nil {
		data, _ := json.MarshalIndent(cur.Manifest, "", "  ")
		before = string(data)
	}

	m, d, err := o.Plan(ctx, path)
	if err != nil {
		fail(err)
	}

	after, _ := json.MarshalIndent(m, "", "  ")
	if before != "" && before != string(after) {
		diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
			A:        difflib.SplitLines(before),
			B:        difflib.SplitLines(string(after)),
			FromFile: "current",
			ToFile:   path,
			Context:  3,
		})
		if err == nil && diff != "" {
			fmt.Print(diff)
		}
	}

	fmt.Printf("to create: %d, to update: %d, to destroy: %d, unchanged: %d, builds to realize: %d, cached: %d\n",
		len(d.ToCreate), len(d.ToUpdate), len(d.ToDestroy), len(d.Unchanged), len(d.ToRealize), len(d.Cached))
}

func runDestroy(ctx context.Context, root store.Root, logger *slog.Logger, rest []string) {
	path := configPathFrom(rest)
	o, err := apply.New(root, path, bind.NewRegistry(), logger)
	if err != nil {
		fail(err)
	}
	result, err := o.Destroy(ctx, path)
	if err != nil {
		fail(err)
	}
	printResult(result)
}

func runUpdate(ctx context.Context, root store.Root, logger *slog.Logger, rest []string) {
	if len(rest) < 1 {
		usageFail("update requires a configuration file, optionally followed by input names")
	}
	path := rest[0]
	names := rest[1:]
	o, err := apply.New(root, path, bind.NewRegistry(), logger)
	if err != nil {
		fail(err)
	}
	if err := o.Update(ctx, path, names); err != nil {
		fail(err)
	}
}

func runInfo(root store.Root, cfg config.Config) {
	fmt.Printf("platform:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("store root: %s\n", cfg.StoreRoot)
	fmt.Printf("elevated:   %t\n", cfg.Elevated)
	fmt.Printf("parallelism: %d\n", cfg.Parallelism)

	s := snapshot.NewStore(root)
	cur, err := s.Current()
	if err != nil {
		fmt.Println("current snapshot: (none)")
		return
	}
	fmt.Printf("current snapshot: %s\n", cur.ID)
}

func runInit(args []string) {
	if len(args) < 1 {
		usageFail("init requires a target directory")
	}
	dir := args[0]
	if err := os.MkdirAll(dir, 0o755); err != nil {
		fail(err)
	}

	configPath := filepath.Join(dir, "anvil.json")
	if _, err := os.Stat(configPath); err == nil {
		fail(fmt.Errorf("%s already exists", configPath))
	}

	seedBind := false
	if err := survey.AskOne(&survey.Confirm{
		Message: "Seed the config with a sample bind (mkdir ./anvil-example)?",
		Default: false,
	}, &seedBind); err != nil {
		fail(err)
	}

	m := manifest.New()
	if seedBind {
		target := ""
		if err := survey.AskOne(&survey.Input{
			Message: "Directory the sample bind should create:",
			Default: "./anvil-example",
		}, &target, survey.WithValidator(func(val interface{}) error {
			if str, ok := val.(string); !ok || str == "" {
				return fmt.Errorf("a path is required")
			}
			return nil
		})); err != nil {
			fail(err)
		}
		if _, err := m.AddBind(manifest.BindDef{
			ID:             "example",
			Inputs:         manifest.String(target),
			CreateActions:  []actions.Action{{Kind: actions.KindMkdir, Mkdir: &actions.Mkdir{Path: target}}},
			DestroyActions: []actions.Action{{Kind: actions.KindOpaque, Opaque: &actions.Opaque{Name: "remove_dir", Payload: map[string]any{"path": target}}}},
		}); err != nil {
			fail(err)
		}
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		fail(err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		fail(err)
	}
	fmt.Printf("wrote %s\n", configPath)
}

func printResult(result *apply.Result) {
	if result == nil {
		return
	}
	fmt.Printf("builds realized: %d, cached: %d, skipped: %d\n", len(result.BuildsRealized), len(result.BuildsCached), len(result.BuildsSkipped))
	fmt.Printf("binds created: %d, updated: %d, destroyed: %d, unchanged: %d\n",
		len(result.BindsCreated), len(result.BindsUpdated), len(result.BindsDestroyed), len(result.BindsUnchanged))
	if result.SnapshotID != "" {
		fmt.Printf("snapshot: %s\n", result.SnapshotID)
	}
}

// usageFail reports a malformed invocation and exits 2, per the documented
// exit code convention (0 success, 1 failure, 2 usage error).
func usageFail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: Usage: %s\n", fmt.Sprintf(format, args...))
	os.Exit(2)
}

// fail reports a runtime failure as "Error: <kind>: <message>" and exits 1.
func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %s: %s\n", errorKind(err), err)
	os.Exit(1)
}

// errorKind maps err to the error-kind taxonomy: the closest matching
// typed error or sentinel in the call chain, or "Failure" for anything
// that doesn't carry a more specific kind.
func errorKind(err error) string {
	var (
		inputParse       *inputsrc.ErrInputParse
		inputNotFound    *inputs.ErrInputNotFound
		inputFetchFailed *inputs.ErrInputFetchFailed
		lockFileCorrupt  *inputs.ErrLockFileCorrupt
		lockFileVersion  *inputs.ErrLockFileVersion
		scriptEvalError  *manifest.ScriptEvalError
		hashMismatch     *sandbox.HashMismatch
		cmdFailed        *sandbox.CmdFailed
		buildFailed      *engine.BuildFailed
		bindFailed       *apply.BindFailed
		storeCollision   *store.ErrStoreCollision
		unregisteredOp   *bind.ErrUnregisteredOpaque
	)
	switch {
	case errors.As(err, &inputParse):
		return "InputParse"
	case errors.As(err, &inputNotFound):
		return "InputNotFound"
	case errors.As(err, &inputFetchFailed):
		return "InputFetchFailed"
	case errors.As(err, &lockFileCorrupt), errors.As(err, &lockFileVersion):
		return "LockFileCorrupt"
	case errors.As(err, &scriptEvalError):
		return "ScriptEvalError"
	case errors.As(err, &hashMismatch):
		return "HashMismatch"
	case errors.As(err, &cmdFailed):
		return "CmdFailed"
	case errors.As(err, &buildFailed):
		return "BuildFailed"
	case errors.As(err, &bindFailed):
		return "BindFailed"
	case errors.As(err, &storeCollision):
		return "StoreCollision"
	case errors.As(err, &unregisteredOp):
		return "BindFailed"
	case errors.Is(err, store.ErrStoreLocked):
		return "StoreIO"
	default:
		return "Failure"
	}
}
