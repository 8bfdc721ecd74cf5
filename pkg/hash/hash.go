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

// Package hash gives every build, bind, and manifest in anvil a
// deterministic identity: canonical JSON serialization followed by
// SHA-256, truncated to a 20-character hex prefix.
package hash

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// Length is the number of hex characters kept from the full SHA-256 digest
// as the public object identifier. 20 hex chars is 80 bits, giving adequate
// collision resistance for realistic store sizes.
const Length = 20

// ObjectHash is the fixed-length hex identity of a build, bind, or manifest.
type ObjectHash string

// String satisfies fmt.Stringer.
func (h ObjectHash) String() string { return string(h) }

// Empty reports whether h has never been assigned.
func (h ObjectHash) Empty() bool { return h == "" }

// ErrNonFiniteNumber is returned by Canonicalize's finiteness check when
// the decoded tree holds a NaN or +/-Inf number; such numbers have no
// canonical JSON representation. A non-finite float64 in a Go value passed
// to Of or Canonicalize is rejected earlier by json.Marshal, and that
// wrapped marshal error is returned instead.
type ErrNonFiniteNumber struct {
	Value float64
}

func (e *ErrNonFiniteNumber) Error() string {
	return fmt.Sprintf("invalid input: non-finite number %v has no canonical serialization", e.Value)
}

// Of computes the ObjectHash of v by canonically serializing it (sorted
// object keys, no insignificant whitespace, finite numbers only) and
// SHA-256-hashing the UTF-8 bytes. Two values that canonicalize to the same
// bytes always produce the same hash, independent of field insertion order
// in maps.
func Of(v any) (ObjectHash, error) {
	canon, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return ObjectHash(hex.EncodeToString(sum[:])[:Length]), nil
}

// MustOf is Of but panics on error; reserved for call sites operating on
// values already known to be finite (e.g. freshly-decoded JSON that round
// tripped through Canonicalize once).
func MustOf(v any) ObjectHash {
	h, err := Of(v)
	if err != nil {
		panic(err)
	}
	return h
}

// Canonicalize renders v as canonical JSON: object keys sorted, no
// whitespace, and a rejection of non-finite floats. It walks v via
// json.Marshal followed by a generic re-encode so that plain Go structs
// (which json.Marshal already emits in a stable field order) and
// map[string]any (which it does not) both come out byte-identical across
// processes.
func Canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal for canonicalization: %w", err)
	}

	var generic any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("decode for canonicalization: %w", err)
	}

	if err := checkFinite(generic); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := encodeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func checkFinite(v any) error {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		if err == nil && (math.IsNaN(f) || math.IsInf(f, 0)) {
			return &ErrNonFiniteNumber{Value: f}
		}
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := checkFinite(t[k]); err != nil {
				return err
			}
		}
	case []any:
		for _, e := range t {
			if err := checkFinite(e); err != nil {
				return err
			}
		}
	}
	return nil
}

// encodeCanonical writes v as JSON with map keys sorted and no whitespace.
// json.Marshal already sorts map[string]T keys, but we decode through
// map[string]any above, so we re-implement the walk explicitly to keep the
// guarantee independent of encoding/json's internal behavior.
func encodeCanonical(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(normalizeNumber(t))
	case string:
		enc, err := json.Marshal(t)
		if err != nil {
			return err
		}
		buf.Write(enc)
	case []any:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeCanonical(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			enc, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(enc)
			buf.WriteByte(':')
			if err := encodeCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("canonicalize: unsupported type %T", v)
	}
	return nil
}

// normalizeNumber renders a JSON number deterministically: integers without
// a decimal point, everything else via Go's shortest round-tripping
// formatting, and never "-0".
func normalizeNumber(n json.Number) string {
	s := n.String()
	if s == "-0" || s == "-0.0" {
		return "0"
	}
	return s
}
