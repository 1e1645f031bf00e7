package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignaturePrefix 回调签名头的前缀
const SignaturePrefix = "sha256="

// Sign 计算 body 的 HMAC-SHA256 签名，返回 "sha256=<hex>"
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return SignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature 校验回调签名，接受带前缀或纯十六进制两种写法
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" {
		return false
	}
	signature = strings.TrimSpace(signature)
	if len(signature) >= len(SignaturePrefix) && strings.EqualFold(signature[:len(SignaturePrefix)], SignaturePrefix) {
		signature = signature[len(SignaturePrefix):]
	}
	provided, err := hex.DecodeString(signature)
	if err != nil || len(provided) != sha256.Size {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(provided, mac.Sum(nil))
}
