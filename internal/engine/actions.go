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
	"context"
	"fmt"
	"io/fs"
	"time"

	"anvil/internal/metrics"
	"anvil/internal/sandbox"
	"anvil/pkg/actions"
)

// fetchBackoff is the exponential backoff schedule for FetchUrl retries,
// the only action kind retried automatically.
var fetchBackoff = []time.Duration{200 * time.Millisecond, 800 * time.Millisecond, 2 * time.Second}

func runAction(ctx context.Context, bctx *sandbox.Context, a actions.Action, rec *metrics.Recorder) error {
	if err := a.Validate(); err != nil {
		return err
	}
	switch a.Kind {
	case actions.KindFetchURL:
		return runFetchWithRetry(ctx, bctx, a.FetchURL, rec)
	case actions.KindUnpack:
		return bctx.Unpack(a.Unpack.Archive, a.Unpack.Dest)
	case actions.KindWriteFile:
		var mode *fs.FileMode
		if a.WriteFile.Mode != nil {
			m := fs.FileMode(*a.WriteFile.Mode)
			mode = &m
		}
		return bctx.WriteFile(a.WriteFile.Path, a.WriteFile.Content, mode)
	case actions.KindCmd:
		_, err := bctx.Cmd(ctx, a.Cmd.Cmd, a.Cmd.Args, a.Cmd.Env, a.Cmd.Cwd)
		return err
	case actions.KindScript:
		_, err := bctx.Script(ctx, string(a.Script.Format), a.Script.Content, nil, "")
		return err
	default:
		return fmt.Errorf("action kind %q has no meaning inside a build", a.Kind)
	}
}

func runFetchWithRetry(ctx context.Context, bctx *sandbox.Context, f *actions.FetchURL, rec *metrics.Recorder) error {
	var lastErr error
	for attempt := 0; attempt <= sandbox.MaxFetchRetries; attempt++ {
		if attempt > 0 {
			if rec != nil {
				rec.FetchRetry()
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(fetchBackoff[(attempt-1)%len(fetchBackoff)]):
			}
		}
		_, err := bctx.FetchURL(ctx, f.URL, f.SHA256)
		if err == nil {
			return nil
		}
		lastErr = err
		if !sandbox.IsRetryable(err) {
			return err
		}
	}
	return lastErr
}
