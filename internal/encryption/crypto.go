// Package encryption provides per-chat symmetric content encryption.
// Keys are 256-bit AES keys; messages are sealed with AES-GCM using a fresh
// random nonce per call.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

const (
	keySize = 32
	tagSize = 16

	AlgorithmAESGCM = "aes-256-gcm"
	AlgorithmNone   = "none"
)

// ErrDecryption is returned for any envelope that cannot be opened: bad
// encoding, wrong key, or a tag mismatch.
var ErrDecryption = errors.New("decryption failed")

// Envelope is the stored form of an encrypted message. All fields are
// base64 (standard) encoded.
type Envelope struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
	Tag        string `json:"tag"`
	Algorithm  string `json:"algorithm"`
}

// Engine seals and opens message envelopes. When disabled it still produces
// well-formed envelopes (base64 content, empty iv and tag) so callers never
// branch on the setting.
type Engine struct {
	enabled bool
	rand    io.Reader
}

// NewEngine creates an Engine. enabled=false switches to pass-through envelopes.
func NewEngine(enabled bool) *Engine {
	return &Engine{enabled: enabled, rand: rand.Reader}
}

// GenerateChatKey returns a fresh base64-encoded 256-bit key.
func (e *Engine) GenerateChatKey() (string, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(e.rand, key); err != nil {
		return "", fmt.Errorf("failed to generate chat key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// Encrypt seals plaintext with key.
func (e *Engine) Encrypt(plaintext, key string) (Envelope, error) {
	if !e.enabled {
		return Envelope{
			Ciphertext: base64.StdEncoding.EncodeToString([]byte(plaintext)),
			Algorithm:  AlgorithmNone,
		}, nil
	}

	aesGCM, err := newGCM(key)
	if err != nil {
		return Envelope{}, err
	}

	nonce := make([]byte, aesGCM.NonceSize())
	if _, err := io.ReadFull(e.rand, nonce); err != nil {
		return Envelope{}, fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Seal appends the tag to the ciphertext; it is stored separately.
	sealed := aesGCM.Seal(nil, nonce, []byte(plaintext), nil)
	ciphertext, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	return Envelope{
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		IV:         base64.StdEncoding.EncodeToString(nonce),
		Tag:        base64.StdEncoding.EncodeToString(tag),
		Algorithm:  AlgorithmAESGCM,
	}, nil
}

// Decrypt opens an envelope produced by Encrypt. It never returns partial
// plaintext or the ciphertext on failure.
func (e *Engine) Decrypt(env Envelope, key string) (string, error) {
	if env.Algorithm == AlgorithmNone {
		raw, err := base64.StdEncoding.DecodeString(env.Ciphertext)
		if err != nil {
			return "", fmt.Errorf("%w: malformed content", ErrDecryption)
		}
		return string(raw), nil
	}
	if env.Algorithm != "" && env.Algorithm != AlgorithmAESGCM {
		return "", fmt.Errorf("%w: unsupported algorithm %q", ErrDecryption, env.Algorithm)
	}

	ciphertext, err1 := base64.StdEncoding.DecodeString(env.Ciphertext)
	nonce, err2 := base64.StdEncoding.DecodeString(env.IV)
	tag, err3 := base64.StdEncoding.DecodeString(env.Tag)
	if err := errors.Join(err1, err2, err3); err != nil {
		return "", fmt.Errorf("%w: malformed envelope", ErrDecryption)
	}

	aesGCM, err := newGCM(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	if len(nonce) != aesGCM.NonceSize() || len(tag) != tagSize {
		return "", fmt.Errorf("%w: malformed envelope", ErrDecryption)
	}

	plaintext, err := aesGCM.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", ErrDecryption)
	}
	return string(plaintext), nil
}

func newGCM(key string) (cipher.AEAD, error) {
	raw, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return nil, fmt.Errorf("invalid chat key encoding: %w", err)
	}
	if len(raw) != keySize {
		return nil, fmt.Errorf("invalid chat key size %d", len(raw))
	}
	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM cipher: %w", err)
	}
	return aesGCM, nil
}
