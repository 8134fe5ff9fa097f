package report

import (
	"crypto/rand"
	"encoding/hex"
)

// NewAccessToken mints the bearer credential for public report access:
// 128 bits from the CSPRNG, hex-encoded.
func NewAccessToken() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// rand.Read only fails when the OS entropy source is broken.
		panic("report: crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(buf)
}
