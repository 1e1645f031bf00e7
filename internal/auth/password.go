package auth

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	defaultBcryptCost = bcrypt.DefaultCost
	MinPasswordLength = 8
	// bcrypt 只使用前 72 字节
	MaxPasswordBytes = 72
)

var (
	ErrPasswordEmpty    = errors.New("password must not be empty")
	ErrPasswordTooShort = errors.New("password must be at least 8 characters")
	ErrPasswordTooLong  = errors.New("password must be at most 72 bytes")
)

// ValidatePassword 注册、管理员建号和改密共用的密码规则
func ValidatePassword(password string) error {
	trimmed := strings.TrimSpace(password)
	switch {
	case trimmed == "":
		return ErrPasswordEmpty
	case len([]rune(trimmed)) < MinPasswordLength:
		return ErrPasswordTooShort
	case len(trimmed) > MaxPasswordBytes:
		return ErrPasswordTooLong
	}
	return nil
}

// HashPassword 校验后生成 bcrypt 哈希
func HashPassword(password string) (string, error) {
	if err := ValidatePassword(password); err != nil {
		return "", err
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(strings.TrimSpace(password)), defaultBcryptCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// VerifyPassword 验证密码是否与存储的哈希值匹配
func VerifyPassword(hash, candidate string) error {
	if strings.TrimSpace(hash) == "" {
		return errors.New("stored password hash is empty")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(strings.TrimSpace(candidate)))
}
