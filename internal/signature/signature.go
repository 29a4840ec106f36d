// Package signature computes and verifies webhook payload signatures.
//
// The signature is hex(HMAC_SHA256(secret, rawBody)) over the exact bytes put
// on the wire. Receivers must verify against the raw request body, never a
// re-serialized copy.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Prefix is the scheme marker carried in the signature header.
const Prefix = "sha256="

// Sign returns the hex-encoded HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Header returns the full header value, e.g. "sha256=<hex>".
func Header(secret string, body []byte) string {
	return Prefix + Sign(secret, body)
}

// Verify checks a received header value against body and secret.
// The comparison is constant-time.
func Verify(secret string, body []byte, header string) bool {
	if !strings.HasPrefix(header, Prefix) {
		return false
	}
	got := strings.TrimPrefix(header, Prefix)
	want := Sign(secret, body)
	return hmac.Equal([]byte(got), []byte(want))
}
