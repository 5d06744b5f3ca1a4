package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// MasterKeySize is the minimum master key length in bytes.
const MasterKeySize = 32

const (
	sealVersion = 1
	hkdfInfo    = "canvasgate credential encryption v1"
)

// ErrDecrypt is returned for any ciphertext that fails authentication.
var ErrDecrypt = errors.New("credential decryption failed")

// Cipher seals credential secrets with AES-256-GCM. The data key is derived
// from the master key with HKDF-SHA256. Ciphertext layout is
// version || nonce || sealed.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher derives the data key from masterKey.
func NewCipher(masterKey []byte) (*Cipher, error) {
	if len(masterKey) < MasterKeySize {
		return nil, fmt.Errorf("master key must be at least %d bytes, got %d", MasterKeySize, len(masterKey))
	}
	dataKey := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, masterKey, nil, []byte(hkdfInfo)), dataKey); err != nil {
		return nil, fmt.Errorf("derive data key: %w", err)
	}
	defer wipe(dataKey)

	block, err := aes.NewCipher(dataKey)
	if err != nil {
		return nil, fmt.Errorf("create block cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Seal encrypts plaintext bound to aad.
func (c *Cipher) Seal(plaintext, aad []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	out := make([]byte, 0, 1+len(nonce)+len(plaintext)+c.aead.Overhead())
	out = append(out, sealVersion)
	out = append(out, nonce...)
	return c.aead.Seal(out, nonce, plaintext, aad), nil
}

// Open decrypts ciphertext produced by Seal with the same aad.
func (c *Cipher) Open(ciphertext, aad []byte) ([]byte, error) {
	ns := c.aead.NonceSize()
	if len(ciphertext) < 1+ns+c.aead.Overhead() || ciphertext[0] != sealVersion {
		return nil, ErrDecrypt
	}
	nonce := ciphertext[1 : 1+ns]
	plain, err := c.aead.Open(nil, nonce, ciphertext[1+ns:], aad)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plain, nil
}

// ParseMasterKey accepts a base64, hex, or raw master key of at least
// MasterKeySize bytes.
func ParseMasterKey(s string) ([]byte, error) {
	if s == "" {
		return nil, errors.New("master key is not set")
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil && len(b) >= MasterKeySize {
		return b, nil
	}
	if b, err := hex.DecodeString(s); err == nil && len(b) >= MasterKeySize {
		return b, nil
	}
	if len(s) >= MasterKeySize {
		return []byte(s), nil
	}
	return nil, fmt.Errorf("master key must decode to at least %d bytes", MasterKeySize)
}

// GenerateMasterKey returns a random base64 master key.
func GenerateMasterKey() (string, error) {
	b := make([]byte, MasterKeySize)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate master key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// credentialAAD binds a ciphertext to its record so it cannot be replayed
// under another id or owner.
func credentialAAD(id, ownerID string) []byte {
	return []byte(id + "\x00" + ownerID)
}
