package utils

import (
	"crypto/rand"
	"math/big"

	"github.com/google/uuid"
)

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// ShortCodeLength is the length of human readable order references.
const ShortCodeLength = 8

// NewID returns a random UUID v4 string.
func NewID() string {
	return uuid.NewString()
}

// RandomCode returns n symbols drawn from A-Z0-9.
func RandomCode(n int) string {
	max := big.NewInt(int64(len(codeAlphabet)))
	buf := make([]byte, n)
	for i := range buf {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand does not fail on supported platforms
			panic(err)
		}
		buf[i] = codeAlphabet[idx.Int64()]
	}
	return string(buf)
}

// ShortCode returns an 8 character uppercase alphanumeric order reference.
func ShortCode() string {
	return RandomCode(ShortCodeLength)
}
