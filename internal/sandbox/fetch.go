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

package sandbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// MaxFetchRetries bounds FetchURL's retry count; it is the only action
// the engine retries automatically.
const MaxFetchRetries = 3

// FetchURL downloads url into the build's scratch directory and verifies
// its SHA-256 against sha256Hex. A hash is always required: there is no
// way to FetchURL an unpinned source. Transient failures are retried with
// exponential backoff up to MaxFetchRetries by the caller (internal/engine);
// this method itself performs one attempt.
func (c *Context) FetchURL(ctx context.Context, url, sha256Hex string) (string, error) {
	if sha256Hex == "" {
		return "", fmt.Errorf("fetch_url %s: sha256 is required", url)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("fetch_url %s: %w", url, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch_url %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetch_url %s: http status %d", url, resp.StatusCode)
	}

	dest := filepath.Join(c.TmpDir, fetchFilename(url))
	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("fetch_url %s: create scratch file: %w", url, err)
	}

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(f, h), resp.Body); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("fetch_url %s: %w", url, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("fetch_url %s: %w", url, err)
	}

	actual := hex.EncodeToString(h.Sum(nil))
	if actual != sha256Hex {
		_ = os.Remove(dest)
		return "", &HashMismatch{URL: url, Expected: sha256Hex, Actual: actual}
	}
	return dest, nil
}

func fetchFilename(url string) string {
	base := filepath.Base(url)
	if base == "" || base == "." || base == "/" {
		base = "fetch.bin"
	}
	return fmt.Sprintf("%d-%s", time.Now().UnixNano(), base)
}

// IsRetryable reports whether err is the kind of transient failure
// FetchURL callers should retry: anything except a confirmed hash
// mismatch, which is a content error, not a transport one.
func IsRetryable(err error) bool {
	var mismatch *HashMismatch
	return err != nil && !asHashMismatch(err, &mismatch)
}

func asHashMismatch(err error, target **HashMismatch) bool {
	if hm, ok := err.(*HashMismatch); ok {
		*target = hm
		return true
	}
	return false
}
