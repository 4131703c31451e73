// GuardianShield Agents - Security Audit and Threat Detection
// Copyright 2026 Rexjaden
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rexjaden/guardianshield-agents-sub001

// Package keycustody seals sensitive audit details with AES-256-GCM.
//
// The data key is derived from a configured secret with HKDF-SHA256, so the
// secret itself never touches the cipher. Each call to Encrypt draws a fresh
// 12-byte nonce; the output layout is nonce || ciphertext || tag.
//
//	kc, err := keycustody.New(cfg.Encryption.Secret)
//	sealed, err := kc.Encrypt(detailsJSON)
//	plain, err := kc.Decrypt(sealed)
package keycustody

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	hkdfSalt   = "guardianshield-audit-details"
	hkdfInfo   = "audit-details-encryption-v1"
	keySize    = 32
	nonceSize  = 12
	minPayload = 1
)

var (
	// ErrEmptySecret is returned when no secret is configured.
	ErrEmptySecret = errors.New("encryption secret cannot be empty")

	// ErrEmptyPlaintext is returned when encrypting nothing.
	ErrEmptyPlaintext = errors.New("plaintext cannot be empty")

	// ErrCiphertextTooShort is returned for truncated input.
	ErrCiphertextTooShort = errors.New("ciphertext too short")

	// ErrDecryptionFailed is returned when authentication fails.
	ErrDecryptionFailed = errors.New("decryption failed: invalid ciphertext or authentication tag")
)

// AESCustody implements audit.KeyCustody with a derived AES-256-GCM key.
type AESCustody struct {
	aead cipher.AEAD
	rand io.Reader
}

// New derives a key from secret and returns a ready custody adapter.
func New(secret string) (*AESCustody, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}

	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), []byte(hkdfSalt), []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &AESCustody{aead: aead, rand: rand.Reader}, nil
}

// Encrypt seals plaintext.
func (c *AESCustody) Encrypt(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, ErrEmptyPlaintext
	}
	nonce := make([]byte, nonceSize, nonceSize+len(plaintext)+c.aead.Overhead())
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens data produced by Encrypt.
func (c *AESCustody) Decrypt(data []byte) ([]byte, error) {
	if len(data) < nonceSize+minPayload+c.aead.Overhead() {
		return nil, ErrCiphertextTooShort
	}
	plaintext, err := c.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// SelfTest round-trips a probe value so misconfiguration fails at startup.
func (c *AESCustody) SelfTest() error {
	probe := []byte("guardianshield-self-test")
	sealed, err := c.Encrypt(probe)
	if err != nil {
		return fmt.Errorf("encryption self-test failed: %w", err)
	}
	opened, err := c.Decrypt(sealed)
	if err != nil {
		return fmt.Errorf("decryption self-test failed: %w", err)
	}
	if string(opened) != string(probe) {
		return errors.New("encryption self-test failed: round-trip mismatch")
	}
	return nil
}
