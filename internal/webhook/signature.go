package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body,
// keyed with the per-provider webhook secret.
const SignatureHeader = "X-Webhook-Signature"

// ValidSignature checks the body digest in constant time. An empty secret
// disables verification; local setups run without one.
func ValidSignature(secret, header string, body []byte) bool {
	if secret == "" {
		return true
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(strings.TrimSpace(header)))
}

// Sign computes the digest a sender puts in SignatureHeader. Exposed for
// tests and for local callback simulation.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
