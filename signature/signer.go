// Package signature provides HMAC-SHA256 webhook signing and verification.
//
// The digest covers the literal request body bytes and is transmitted as
// lowercase hex in the X-Webhook-Signature header.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Signer signs payloads with a fixed shared secret. Receivers can hold one
// per subscription to verify inbound deliveries.
type Signer struct {
	secret []byte
}

// NewSigner returns a Signer bound to secret.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Sign returns the hex HMAC-SHA256 of payload under the signer's secret.
func (s *Signer) Sign(payload []byte) string {
	return hex.EncodeToString(digest(payload, s.secret))
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) string {
	return hex.EncodeToString(digest(payload, []byte(secret)))
}

func digest(payload, secret []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return mac.Sum(nil)
}
