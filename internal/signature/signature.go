package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
)

// Sign computes the HMAC-SHA256 hex digest used for outbound
// app-to-provider signing.
func Sign(data []byte, secret string) string {
	return digest(sha256.New, data, secret)
}

// SignSHA512 computes the HMAC-SHA512 hex digest. NowPayments signs its
// IPN callbacks with this variant.
func SignSHA512(data []byte, secret string) string {
	return digest(sha512.New, data, secret)
}

// Verify reports whether sign matches the HMAC-SHA256 digest of data.
// The comparison is constant time.
func Verify(sign string, data []byte, secret string) bool {
	return hmac.Equal([]byte(sign), []byte(Sign(data, secret)))
}

// VerifySHA512 reports whether sign matches the HMAC-SHA512 digest of data.
func VerifySHA512(sign string, data []byte, secret string) bool {
	return hmac.Equal([]byte(sign), []byte(SignSHA512(data, secret)))
}

func digest(algo func() hash.Hash, data []byte, secret string) string {
	mac := hmac.New(algo, []byte(secret))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}
