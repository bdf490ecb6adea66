package lib

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
)

const (
	tokenBytes      = 32
	maskedKeyPrefix = "rk_live_"
)

// GenerateToken returns 32 random bytes encoded as unpadded base64url.
func GenerateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// MaskToken keeps the first four characters of a token, enough to tell keys
// apart in listings and logs.
func MaskToken(token string) string {
	if len(token) > 4 {
		token = token[:4]
	}
	return maskedKeyPrefix + token + "..."
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
