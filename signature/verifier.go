package signature

import "crypto/hmac"

// Verify reports whether sig is the hex HMAC-SHA256 of payload under the
// signer's secret. The comparison runs in constant time.
func (s *Signer) Verify(payload []byte, sig string) bool {
	return hmac.Equal([]byte(s.Sign(payload)), []byte(sig))
}

// Verify reports whether sig is the hex HMAC-SHA256 of payload under secret.
// The comparison runs in constant time.
func Verify(payload []byte, sig, secret string) bool {
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(sig))
}
