// Package krypto provides the cryptographic primitives used across the SDK:
// authenticated encryption for tokens at rest, key parsing and derivation,
// and secure random token generation.
//
// # Token Encryption
//
// OAuth tokens are sealed with AES-256-GCM before they reach any storage
// backend. The master key is configured as 64 hex characters and expanded
// into purpose bound subkeys with HKDF:
//
//	master, err := krypto.ParseKeyHex(cfg.EncryptionKey)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	key, err := krypto.DeriveKey(master, "token-store")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	enc, err := krypto.NewAESGCM(key)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	sealed, err := enc.EncryptString(`{"access_token":"..."}`)
//
// Every ciphertext carries its own random nonce, so encrypting the same
// plaintext twice yields different results.
//
// # Random Tokens
//
// State values and PKCE verifiers come from crypto/rand:
//
//	state, err := krypto.GenerateSecureToken(16)    // 32 hex chars
//	verifier, err := krypto.GenerateURLSafeToken(32) // 43 base64url chars
//
// Use GenerateKeyHex once to mint a new master key for deployment.
package krypto
