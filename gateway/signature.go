package gateway

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"strings"

	"agrimart/apperr"
)

// SignatureHeader carries the hex HMAC-SHA512 of the raw webhook body.
const SignatureHeader = "X-Signature"

// Sign returns the hex HMAC-SHA512 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks sig against body in constant time.
func VerifySignature(secret string, body []byte, sig string) error {
	if secret == "" {
		return apperr.SignatureInvalid("webhook_secret_unconfigured")
	}
	sig = strings.TrimSpace(sig)
	if sig == "" {
		return apperr.SignatureInvalid("missing_signature")
	}
	got, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil {
		return apperr.SignatureInvalid("malformed_signature")
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return apperr.SignatureInvalid("signature_mismatch")
	}
	return nil
}
