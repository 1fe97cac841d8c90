package session

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/argon2"
)

const (
	vaultMagic = "WAV1"
	saltLen    = 16
	keyLen     = 32

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

var (
	// ErrCorrupt is returned when a sealed blob cannot be opened
	ErrCorrupt = errors.New("session: sealed data is corrupt or was written with another secret")
)

// Vault seals session state with AES-256-GCM.
//
// With a secret the key is derived per salt with argon2id, and the salt is
// written in front of the ciphertext. A vault keeps sealing under one salt,
// the one it generated or the one of the last blob it opened, so the key is
// derived once per process rather than on every write:
//
//	magic(4) | salt(16) | nonce(12) | ciphertext
//
// Without a secret the key is random and lives only in this process, so
// sealed data cannot be opened after a restart.
type Vault struct {
	secret    []byte
	ephemeral []byte

	mu          sync.Mutex
	salt        []byte
	cachedSalt  []byte
	cachedKey   []byte
	derivations int
}

// NewVault creates a vault. An empty secret makes the vault ephemeral.
func NewVault(secret string) (*Vault, error) {
	v := &Vault{}
	if secret != "" {
		v.secret = []byte(secret)
		return v, nil
	}

	v.ephemeral = make([]byte, keyLen)
	if _, err := io.ReadFull(rand.Reader, v.ephemeral); err != nil {
		return nil, fmt.Errorf("generate vault key: %w", err)
	}
	return v, nil
}

// Ephemeral reports whether the key is process-local
func (v *Vault) Ephemeral() bool {
	return v.secret == nil
}

func (v *Vault) key(salt []byte) []byte {
	if v.secret == nil {
		return v.ephemeral
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cachedKey != nil && bytes.Equal(v.cachedSalt, salt) {
		return v.cachedKey
	}
	k := argon2.IDKey(v.secret, salt, argonTime, argonMemory, argonThreads, keyLen)
	v.cachedSalt = append([]byte(nil), salt...)
	v.cachedKey = k
	v.derivations++
	return k
}

// sealingSalt returns the salt new blobs are written under
func (v *Vault) sealingSalt() ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.salt == nil {
		salt := make([]byte, saltLen)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return nil, fmt.Errorf("generate salt: %w", err)
		}
		v.salt = salt
	}
	return v.salt, nil
}

// Seal encrypts plaintext under the vault salt and a fresh nonce
func (v *Vault) Seal(plaintext []byte) ([]byte, error) {
	salt, err := v.sealingSalt()
	if err != nil {
		return nil, err
	}

	gcm, err := newGCM(v.key(salt))
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	header := make([]byte, 0, len(vaultMagic)+saltLen+len(nonce))
	header = append(header, vaultMagic...)
	header = append(header, salt...)
	header = append(header, nonce...)

	// magic and salt are authenticated along with the payload
	aad := append([]byte(nil), header[:len(vaultMagic)+saltLen]...)
	return gcm.Seal(header, nonce, plaintext, aad), nil
}

// Open decrypts a blob produced by Seal
func (v *Vault) Open(blob []byte) ([]byte, error) {
	if len(blob) < len(vaultMagic)+saltLen || !bytes.HasPrefix(blob, []byte(vaultMagic)) {
		return nil, ErrCorrupt
	}
	salt := blob[len(vaultMagic) : len(vaultMagic)+saltLen]

	gcm, err := newGCM(v.key(salt))
	if err != nil {
		return nil, err
	}

	rest := blob[len(vaultMagic)+saltLen:]
	if len(rest) < gcm.NonceSize()+gcm.Overhead() {
		return nil, ErrCorrupt
	}
	nonce, ciphertext := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]

	plain, err := gcm.Open(nil, nonce, ciphertext, blob[:len(vaultMagic)+saltLen])
	if err != nil {
		return nil, ErrCorrupt
	}

	v.mu.Lock()
	v.salt = append([]byte(nil), salt...)
	v.mu.Unlock()
	return plain, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}
