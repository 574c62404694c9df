package qr

import (
	"fmt"

	"github.com/skip2/go-qrcode"
)

const (
	DefaultSize = 256
	MinSize     = 128
	MaxSize     = 1024
)

// Encode renders the ticket token as a PNG. The token is the whole payload;
// scanners look it up server side and verify the stored hash.
func Encode(token string, size int) ([]byte, error) {
	if token == "" {
		return nil, fmt.Errorf("empty ticket token")
	}
	if size < MinSize || size > MaxSize {
		size = DefaultSize
	}
	return qrcode.Encode(token, qrcode.Medium, size)
}
