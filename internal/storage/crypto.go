package storage

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

const (
	gcmMagic        = "GCM3NCR0"
	pbkdf2Rounds    = 100000
	saltSize        = 16
	gcmNonceSize    = 12
	gcmTagSize      = 16
	gcmHeaderLength = len(gcmMagic) + saltSize + gcmNonceSize
)

// Encrypted wraps a Client and stores every object AES-GCM encrypted with a
// key derived from a passphrase. Format:
// magic(8) + salt(16) + nonce(12) + ciphertext + tag(16).
type Encrypted struct {
	inner    Client
	password string

	salt []byte
	aead cipher.AEAD

	mu    sync.Mutex
	cache map[string]cipher.AEAD // salt -> AEAD for objects written elsewhere
}

// NewEncrypted derives the write key once; reads of objects written with a
// different salt derive (and cache) their own key.
func NewEncrypted(inner Client, password string) (*Encrypted, error) {
	if password == "" {
		return nil, fmt.Errorf("encryption passphrase is empty")
	}
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	aead, err := deriveAEAD(password, salt)
	if err != nil {
		return nil, err
	}
	return &Encrypted{
		inner:    inner,
		password: password,
		salt:     salt,
		aead:     aead,
		cache:    map[string]cipher.AEAD{string(salt): aead},
	}, nil
}

func deriveAEAD(password string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(password), salt, pbkdf2Rounds, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

func (e *Encrypted) seal(plain []byte) ([]byte, error) {
	nonce := make([]byte, gcmNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	out := make([]byte, 0, gcmHeaderLength+len(plain)+gcmTagSize)
	out = append(out, gcmMagic...)
	out = append(out, e.salt...)
	out = append(out, nonce...)
	return e.aead.Seal(out, nonce, plain, nil), nil
}

func (e *Encrypted) open(data []byte) ([]byte, error) {
	if len(data) < gcmHeaderLength+gcmTagSize || string(data[:len(gcmMagic)]) != gcmMagic {
		return nil, fmt.Errorf("object is not in %s format", gcmMagic)
	}
	salt := data[len(gcmMagic) : len(gcmMagic)+saltSize]
	nonce := data[len(gcmMagic)+saltSize : gcmHeaderLength]

	e.mu.Lock()
	aead, ok := e.cache[string(salt)]
	e.mu.Unlock()
	if !ok {
		var err error
		if aead, err = deriveAEAD(e.password, salt); err != nil {
			return nil, err
		}
		e.mu.Lock()
		e.cache[string(salt)] = aead
		e.mu.Unlock()
	}
	plain, err := aead.Open(nil, nonce, data[gcmHeaderLength:], nil)
	if err != nil {
		return nil, fmt.Errorf("GCM decryption failed: %w", err)
	}
	return plain, nil
}

func (e *Encrypted) Put(ctx context.Context, key string, data []byte) error {
	_, err := e.PutIf(ctx, key, data, Condition{})
	return err
}

func (e *Encrypted) PutIf(ctx context.Context, key string, data []byte, cond Condition) (string, error) {
	sealed, err := e.seal(data)
	if err != nil {
		return "", err
	}
	return e.inner.PutIf(ctx, key, sealed, cond)
}

func (e *Encrypted) Get(ctx context.Context, key string) ([]byte, string, error) {
	data, ver, err := e.inner.Get(ctx, key)
	if err != nil {
		return nil, "", err
	}
	plain, err := e.open(data)
	if err != nil {
		return nil, "", fmt.Errorf("decrypt %s: %w", key, err)
	}
	return plain, ver, nil
}

func (e *Encrypted) Exists(ctx context.Context, key string) (bool, error) {
	return e.inner.Exists(ctx, key)
}

func (e *Encrypted) List(ctx context.Context, prefix string) ([]string, error) {
	return e.inner.List(ctx, prefix)
}

func (e *Encrypted) Delete(ctx context.Context, key string) error {
	return e.inner.Delete(ctx, key)
}

func (e *Encrypted) DeletePrefix(ctx context.Context, prefix string) error {
	return e.inner.DeletePrefix(ctx, prefix)
}

func (e *Encrypted) Download(ctx context.Context, key, path string) error {
	data, _, err := e.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (e *Encrypted) Upload(ctx context.Context, path, key string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return e.Put(ctx, key, data)
}
