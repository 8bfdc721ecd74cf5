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

package secrets

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewBox_RejectsEmptyPassphrase(t *testing.T) {
	_, err := NewBox("")
	require.Error(t, err)
}

func TestBox_SealOpenRoundTrip(t *testing.T) {
	box, err := NewBox("correct horse battery staple")
	require.NoError(t, err)

	sealed, err := box.Seal("ghp_exampletoken1234")
	require.NoError(t, err)
	require.NotEmpty(t, sealed)
	require.True(t, Sealed(sealed))

	plain, err := box.Open(sealed)
	require.NoError(t, err)
	require.Equal(t, "ghp_exampletoken1234", plain)
}

func TestBox_OpenWithWrongPassphraseFails(t *testing.T) {
	box, err := NewBox("passphrase-one")
	require.NoError(t, err)
	sealed, err := box.Seal("secret-value")
	require.NoError(t, err)

	other, err := NewBox("passphrase-two")
	require.NoError(t, err)
	_, err = other.Open(sealed)
	require.Error(t, err)
}

func TestBox_SealRejectsEmptyPlaintext(t *testing.T) {
	box, err := NewBox("p")
	require.NoError(t, err)
	_, err = box.Seal("")
	require.Error(t, err)
}

func TestSealed_RejectsPlainStrings(t *testing.T) {
	require.False(t, Sealed(""))
	require.False(t, Sealed("not-base64!@#"))
	require.False(t, Sealed("c2hvcnQ=")) // valid base64, too short
}
