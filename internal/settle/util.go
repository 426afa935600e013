package settle

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/crypto/bcrypt"
)

// Hmac256 is a function to generate HMAC256 hash.
func Hmac256(body, key []byte) string {
	hash := hmac.New(sha256.New, key)
	hash.Write(body)
	return hex.EncodeToString(hash.Sum(nil))
}

// VerifyHMAC verifies a received signature against the expected one for
// the given message and key.
func VerifyHMAC(message, key []byte, receivedHMAC string) bool {
	expected := Hmac256(message, key)
	return hmac.Equal([]byte(receivedHMAC), []byte(expected))
}

// GenerateHash hashes a validator device secret for storage.
func GenerateHash(secret []byte) (string, error) {
	hash, err := bcrypt.GenerateFromPassword(secret, bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CompareHash checks a presented device secret against its stored hash.
func CompareHash(storedHash, secret []byte) bool {
	if err := bcrypt.CompareHashAndPassword(storedHash, secret); err != nil {
		return false
	}
	return true
}
