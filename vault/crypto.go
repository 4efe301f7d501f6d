package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	defaultKDFIterations = 200_000
	saltBytes            = 16
	keyBytes             = 32
)

// deriveKey stretches the PIN into an AES-256 key. The PIN itself is never
// used as key material directly.
func deriveKey(pin string, salt []byte, iterations int) []byte {
	if iterations <= 0 {
		iterations = defaultKDFIterations
	}
	return pbkdf2.Key([]byte(pin), salt, iterations, keyBytes, sha256.New)
}

func newSalt() ([]byte, error) {
	salt := make([]byte, saltBytes)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// seal encrypts plaintext with AES-256-GCM under a fresh random nonce.
func seal(key, plaintext []byte) (nonce, ciphertext []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}
	return nonce, gcm.Seal(nil, nonce, plaintext, nil), nil
}

// open decrypts and authenticates. A wrong key shows up as an
// authentication failure, which the caller reports as ErrWrongPIN.
func open(key, nonce, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, ciphertext, nil)
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
