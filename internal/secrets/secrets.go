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

// Package secrets provides optional at-rest encryption for git credential
// material (tokens, deploy-key passphrases) an input resolver caches
// alongside a lock file entry. Nothing in the core requires it: a private
// `git:` source works fine with credentials supplied by the ambient git
// config or SSH agent, same as any other git client. This package exists
// for embeddings that want the resolver's cache to hold a credential
// itself, encrypted at rest rather than in plaintext.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// saltLabel seeds the fixed, passphrase-derived salt. Keeping the
	// derivation deterministic (rather than a stored random salt) means a
	// Box built from the same passphrase always decrypts entries written
	// by an earlier Box, which matters for a cache meant to outlive any
	// one process.
	saltLabel  = "anvil-secrets-salt-"
	keySize    = 32
	nonceSize  = 12
	iterations = 100000
)

// Box encrypts and decrypts credential strings under one passphrase.
type Box struct {
	key []byte
}

// NewBox derives a Box's key from passphrase via PBKDF2-SHA256.
func NewBox(passphrase string) (*Box, error) {
	if passphrase == "" {
		return nil, errors.New("passphrase must not be empty")
	}
	salt := sha256.Sum256([]byte(saltLabel + passphrase))
	key := pbkdf2.Key([]byte(passphrase), salt[:], iterations, keySize, sha256.New)
	return &Box{key: key}, nil
}

// Seal encrypts plaintext, returning a base64 string safe to embed in a
// lock file entry.
func (b *Box) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", errors.New("plaintext must not be empty")
	}
	gcm, err := b.gcm()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a string produced by Seal.
func (b *Box) Open(encoded string) (string, error) {
	if encoded == "" {
		return "", errors.New("encoded secret must not be empty")
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode secret: %w", err)
	}
	gcm, err := b.gcm()
	if err != nil {
		return "", err
	}
	if len(raw) < gcm.NonceSize() {
		return "", errors.New("encoded secret is too short")
	}
	nonce, ciphertext := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt secret: %w", err)
	}
	return string(plaintext), nil
}

func (b *Box) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(b.key)
	if err != nil {
		return nil, fmt.Errorf("build cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("build GCM: %w", err)
	}
	return gcm, nil
}

// Sealed reports whether s looks like a Box-produced ciphertext: valid
// base64 at least as long as one empty Seal would produce. It is a
// heuristic, used only to decide whether a cached credential needs Open
// before use.
func Sealed(s string) bool {
	if s == "" {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return false
	}
	return len(decoded) >= nonceSize+16
}
