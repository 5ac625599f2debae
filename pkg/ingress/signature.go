package ingress

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// DefaultSignatureHeader carries the HMAC of the request body.
const DefaultSignatureHeader = "X-Standup-Signature"

// verifySignature checks a "sha256=<hex>" HMAC of body.
func verifySignature(body []byte, signature, secret string) bool {
	expected := computeHMACSHA256(body, secret)
	return subtle.ConstantTimeCompare([]byte(signature), []byte(expected)) == 1
}

func computeHMACSHA256(body []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}
