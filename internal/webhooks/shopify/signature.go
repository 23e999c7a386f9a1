package shopifywebhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// SignatureResult is the outcome of checking a delivery's HMAC header.
type SignatureResult int

const (
	SignatureInvalid SignatureResult = iota
	SignatureValid
)

// Verify checks the base64 HMAC-SHA256 of the raw body against the header
// value. An empty header or secret never verifies.
func Verify(body []byte, signature, secret string) SignatureResult {
	signature = strings.TrimSpace(signature)
	if signature == "" || secret == "" {
		return SignatureInvalid
	}
	provided, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return SignatureInvalid
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), provided) {
		return SignatureInvalid
	}
	return SignatureValid
}

// Sign returns the header value Shopify would send for body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
