package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// SignatureHeader carries the webhook signature.
const SignatureHeader = "X-Merchants-Signature"

// ErrInvalidSignature is returned when a webhook signature does not
// match the request body.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Sign computes the webhook signature for payload: "sha256=<hex>" of
// the HMAC-SHA256 over the raw body.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks signature against the expected HMAC of
// payload using a constant-time comparison.
func VerifySignature(payload []byte, secret, signature string) error {
	encoded, ok := strings.CutPrefix(signature, "sha256=")
	if !ok {
		return ErrInvalidSignature
	}
	got, err := hex.DecodeString(encoded)
	if err != nil {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}
