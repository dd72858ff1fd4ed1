package krypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
)

// Encryptor defines the interface for authenticated encryption of small
// payloads such as serialized OAuth tokens.
type Encryptor interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
	EncryptString(plaintext string) (string, error)
	DecryptString(ciphertextB64 string) (string, error)
}

// aesGCM implements Encryptor using AES-GCM with a random nonce prepended
// to every ciphertext.
type aesGCM struct {
	gcm cipher.AEAD
}

// NewAESGCM creates an Encryptor from a raw key. The key must be 16, 24,
// or 32 bytes long for AES-128, AES-192, or AES-256.
func NewAESGCM(key []byte) (Encryptor, error) {
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("invalid key size %d: must be 16, 24, or 32 bytes", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher block: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &aesGCM{gcm: gcm}, nil
}

// Encrypt seals plaintext and returns nonce||ciphertext.
func (s *aesGCM) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Encrypt and append nonce to the beginning
	return s.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a nonce||ciphertext blob produced by Encrypt.
func (s *aesGCM) Decrypt(ciphertext []byte) ([]byte, error) {
	nonceSize := s.gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short: %d bytes", len(ciphertext))
	}

	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := s.gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}

	return plaintext, nil
}

// EncryptString seals a string and returns the result base64 encoded.
func (s *aesGCM) EncryptString(plaintext string) (string, error) {
	sealed, err := s.Encrypt([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptString reverses EncryptString.
func (s *aesGCM) DecryptString(ciphertextB64 string) (string, error) {
	if ciphertextB64 == "" {
		return "", fmt.Errorf("empty input: ciphertext cannot be empty")
	}

	sealed, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	plaintext, err := s.Decrypt(sealed)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}

// ParseKeyHex decodes a hex encoded AES-256 key. The input must be exactly
// 64 hex characters decoding to 32 bytes.
func ParseKeyHex(s string) ([]byte, error) {
	if len(s) != 64 {
		return nil, fmt.Errorf("invalid key length %d: must be 64 hex characters", len(s))
	}

	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid key encoding: %w", err)
	}

	return key, nil
}

// GenerateKeyHex returns a fresh random AES-256 key as 64 hex characters.
func GenerateKeyHex() (string, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("failed to generate random key: %w", err)
	}

	return hex.EncodeToString(key), nil
}
