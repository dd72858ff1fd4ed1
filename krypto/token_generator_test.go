package krypto

import (
	"encoding/hex"
	"testing"
)

func TestGenerateSecureToken(t *testing.T) {
	tests := []struct {
		name    string
		length  int
		wantLen int
		wantErr bool
	}{
		{
			name:    "16 bytes",
			length:  16,
			wantLen: 32,
		},
		{
			name:    "32 bytes",
			length:  32,
			wantLen: 64,
		},
		{
			name:    "zero length",
			length:  0,
			wantErr: true,
		},
		{
			name:    "negative length",
			length:  -1,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := GenerateSecureToken(tt.length)
			if (err != nil) != tt.wantErr {
				t.Errorf("GenerateSecureToken() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				return
			}

			if len(token) != tt.wantLen {
				t.Errorf("GenerateSecureToken() length = %d, want %d", len(token), tt.wantLen)
			}
			if _, err := hex.DecodeString(token); err != nil {
				t.Errorf("GenerateSecureToken() produced non-hex output: %v", err)
			}
		})
	}
}

func TestGenerateSecureTokenUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token, err := GenerateSecureToken(16)
		if err != nil {
			t.Fatalf("GenerateSecureToken() error = %v", err)
		}
		if seen[token] {
			t.Fatalf("GenerateSecureToken() repeated token %s", token)
		}
		seen[token] = true
	}
}

func TestGenerateURLSafeToken(t *testing.T) {
	token, err := GenerateURLSafeToken(32)
	if err != nil {
		t.Fatalf("GenerateURLSafeToken() error = %v", err)
	}

	// 32 bytes encode to 43 unpadded base64url characters
	if len(token) != 43 {
		t.Errorf("GenerateURLSafeToken(32) length = %d, want 43", len(token))
	}
	for _, c := range token {
		switch {
		case c >= 'A' && c <= 'Z':
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			t.Fatalf("GenerateURLSafeToken() produced invalid character %q", c)
		}
	}

	if _, err := GenerateURLSafeToken(0); err == nil {
		t.Error("GenerateURLSafeToken() accepted zero length")
	}
}
