package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

// errInvalidSignature is returned for every verification failure.
var errInvalidSignature = errors.New("webhook signature verification failed")

// verifyHMACSignature checks an HMAC-SHA256 signature of body using a
// constant-time comparison. Accepted forms are "sha256=<hex>" and "<hex>".
func verifyHMACSignature(body []byte, signature, secret string) error {
	if secret == "" || signature == "" {
		return errInvalidSignature
	}

	actualMAC, err := parseSignature(signature)
	if err != nil {
		return errInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if subtle.ConstantTimeCompare(mac.Sum(nil), actualMAC) != 1 {
		return errInvalidSignature
	}
	return nil
}

func parseSignature(signature string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(signature), "sha256="))
}

// computeSignature returns the "sha256=<hex>" signature of body.
func computeSignature(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
