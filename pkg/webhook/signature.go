package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"hash"
	"strings"
)

// SignatureHeader carries the HMAC of the request body.
const SignatureHeader = "X-Webhook-Signature"

// Sign returns "sha256=<hex>" for body under secret.
func Sign(body []byte, secret string) string {
	return "sha256=" + computeHMAC(sha256.New, body, secret)
}

// Verify checks a signature header against body. Both "sha256=" and
// "sha1=" prefixes are accepted; a bare hex digest is treated as sha256.
func Verify(body []byte, header, secret string) bool {
	if header == "" || secret == "" {
		return false
	}

	algorithm, digest := parseSignatureHeader(header)

	var expected string
	switch algorithm {
	case "sha256":
		expected = computeHMAC(sha256.New, body, secret)
	case "sha1":
		expected = computeHMAC(sha1.New, body, secret)
	default:
		return false
	}

	return subtle.ConstantTimeCompare([]byte(strings.ToLower(digest)), []byte(expected)) == 1
}

func computeHMAC(h func() hash.Hash, body []byte, secret string) string {
	mac := hmac.New(h, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func parseSignatureHeader(header string) (algorithm, digest string) {
	header = strings.TrimSpace(header)
	if algo, rest, ok := strings.Cut(header, "="); ok {
		return strings.ToLower(algo), rest
	}
	return "sha256", header
}
