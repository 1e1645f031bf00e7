package auth

import (
	"errors"
	"strings"
	"testing"
)

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  error
	}{
		{"合法密码", "S3curePass!", nil},
		{"空白", "   ", ErrPasswordEmpty},
		{"过短", "short", ErrPasswordTooShort},
		{"空白不计入长度", "  1234567  ", ErrPasswordTooShort},
		{"多字节字符按字符计", "密码密码密码密码", nil},
		{"超过 bcrypt 上限", strings.Repeat("a", MaxPasswordBytes+1), ErrPasswordTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidatePassword(tt.password); !errors.Is(err, tt.wantErr) {
				t.Fatalf("ValidatePassword(%q) = %v, want %v", tt.password, err, tt.wantErr)
			}
		})
	}
}

func TestPasswordHashingLifecycle(t *testing.T) {
	password := "S3curePass!"
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("unexpected error hashing password: %v", err)
	}
	if hash == "" {
		t.Fatal("expected hash to be populated")
	}

	if err := VerifyPassword(hash, password); err != nil {
		t.Fatalf("expected password to verify, got error: %v", err)
	}
	if err := VerifyPassword(hash, " "+password+" "); err != nil {
		t.Fatalf("surrounding whitespace should be ignored, got error: %v", err)
	}
	if err := VerifyPassword(hash, "wrong-password"); err == nil {
		t.Fatal("expected verification to fail for wrong password")
	}
	if _, err := HashPassword("short"); !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}
}
