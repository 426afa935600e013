package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// GenerateCode returns 2n uppercase hex characters from n random bytes.
// Used for settlement reference suffixes and terminal labels.
func GenerateCode(n int) (string, error) {
	byt := make([]byte, n)

	if _, err := rand.Read(byt); err != nil {
		return "", err
	}

	return strings.ToUpper(hex.EncodeToString(byt)), nil
}

// GenerateOTP returns a numeric one-time code of the given length.
func GenerateOTP(length int) (string, error) {
	const charset = "0123456789"

	code := make([]byte, length)

	if _, err := rand.Read(code); err != nil {
		return "", err
	}

	for i := 0; i < length; i++ {
		code[i] = charset[int(code[i])%len(charset)]
	}

	return string(code), nil
}
