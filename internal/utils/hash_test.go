package utils

import (
	"strings"
	"testing"
)

func TestHashPasswordArgon2(t *testing.T) {
	password := "correct horse battery staple"

	hash, err := HashPasswordArgon2(password)
	if err != nil {
		t.Fatalf("HashPasswordArgon2() error = %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$") {
		t.Fatalf("hash = %q, want $argon2id$ prefix", hash)
	}

	other, err := HashPasswordArgon2(password)
	if err != nil {
		t.Fatalf("HashPasswordArgon2() error = %v", err)
	}
	if hash == other {
		t.Error("two hashes of the same password share a salt")
	}

	t.Run("valid password", func(t *testing.T) {
		ok, err := VerifyPasswordArgon2(password, hash)
		if err != nil {
			t.Fatalf("VerifyPasswordArgon2() error = %v", err)
		}
		if !ok {
			t.Error("VerifyPasswordArgon2() = false, want true")
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		ok, err := VerifyPasswordArgon2("nope", hash)
		if err != nil {
			t.Fatalf("VerifyPasswordArgon2() error = %v", err)
		}
		if ok {
			t.Error("VerifyPasswordArgon2() = true, want false")
		}
	})

	t.Run("invalid hash format", func(t *testing.T) {
		if _, err := VerifyPasswordArgon2(password, "invalid-hash"); err == nil {
			t.Error("VerifyPasswordArgon2() error = nil, want error")
		}
	})
}

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "", want: ""},
		{in: "short", want: "*****"},
		{in: "sk-1234567890abcd", want: "sk-1*********abcd"},
	}

	for _, tt := range tests {
		if got := MaskSecret(tt.in); got != tt.want {
			t.Errorf("MaskSecret(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
