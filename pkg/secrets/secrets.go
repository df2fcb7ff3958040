// Package secrets seals provider API keys at rest.
//
// A 32 byte master secret lives in a key file created on first use with
// mode 0600. The sealing key is derived from it with HKDF-SHA256 and used
// with XChaCha20-Poly1305.
package secrets

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	sealedPrefix = "v1:"
	masterSize   = 32
	hkdfInfo     = "socratium provider api keys"
)

var ErrMalformed = errors.New("malformed sealed secret")

// Box seals and opens short secrets.
type Box struct {
	key []byte
}

// New derives a Box from master, which must be 32 bytes.
func New(master []byte) (*Box, error) {
	if len(master) != masterSize {
		return nil, fmt.Errorf("master secret must be %d bytes, got %d", masterSize, len(master))
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return &Box{key: key}, nil
}

// LoadOrCreate reads the master secret at path, creating it when absent.
func LoadOrCreate(path string) (*Box, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("secret key path is required")
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		raw, err = create(path)
	}
	if err != nil {
		return nil, fmt.Errorf("load secret key: %w", err)
	}
	master, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("decode secret key: %w", err)
	}
	return New(master)
}

func create(path string) ([]byte, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	master := make([]byte, masterSize)
	if _, err := rand.Read(master); err != nil {
		return nil, err
	}
	encoded := []byte(base64.StdEncoding.EncodeToString(master))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if errors.Is(err, os.ErrExist) {
		// Another process won the race.
		return os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if _, err := f.Write(encoded); err != nil {
		return nil, err
	}
	return encoded, nil
}

// Seal encrypts plaintext into a printable token.
func (b *Box) Seal(plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open decrypts a token produced by Seal.
func (b *Box) Open(token string) (string, error) {
	if !strings.HasPrefix(token, sealedPrefix) {
		return "", ErrMalformed
	}
	data, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(token, sealedPrefix))
	if err != nil {
		return "", ErrMalformed
	}
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return "", err
	}
	if len(data) < aead.NonceSize()+aead.Overhead() {
		return "", ErrMalformed
	}
	nonce, ciphertext := data[:aead.NonceSize()], data[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("open secret: %w", err)
	}
	return string(plain), nil
}
