package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureHeader carries the HMAC of the raw request body.
const SignatureHeader = "X-Escrow-Signature"

const signaturePrefix = "sha256="

// VerifyStatus is the outcome of a signature check.
type VerifyStatus string

const (
	// Verified means the signature matches the configured secret.
	Verified VerifyStatus = "verified"
	// Unverified means no secret is configured, so nothing was checked.
	// Callers must not treat it as Verified.
	Unverified VerifyStatus = "unverified"
	// Rejected means a secret is configured and the signature is missing or
	// does not match.
	Rejected VerifyStatus = "rejected"
)

// Result describes a verification outcome.
type Result struct {
	Status VerifyStatus
	Reason string
}

// Verifier checks HMAC-SHA256 body signatures.
type Verifier struct {
	Secret string
}

// Enabled reports whether signatures are checked at all.
func (v Verifier) Enabled() bool { return strings.TrimSpace(v.Secret) != "" }

// Verify checks signature against body. The signature is lowercase or
// uppercase hex with an optional "sha256=" prefix.
func (v Verifier) Verify(body []byte, signature string) Result {
	if !v.Enabled() {
		return Result{Status: Unverified, Reason: "no signing secret configured"}
	}
	cleaned := strings.TrimSpace(signature)
	if len(cleaned) >= len(signaturePrefix) && strings.EqualFold(cleaned[:len(signaturePrefix)], signaturePrefix) {
		cleaned = cleaned[len(signaturePrefix):]
	}
	if cleaned == "" {
		return Result{Status: Rejected, Reason: "missing signature"}
	}
	provided, err := hex.DecodeString(strings.ToLower(cleaned))
	if err != nil {
		return Result{Status: Rejected, Reason: "signature is not hex"}
	}
	if !hmac.Equal(mac(v.Secret, body), provided) {
		return Result{Status: Rejected, Reason: "signature mismatch"}
	}
	return Result{Status: Verified}
}

// Sign returns the header value for body under secret.
func Sign(secret string, body []byte) string {
	return signaturePrefix + hex.EncodeToString(mac(secret, body))
}

func mac(secret string, body []byte) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return h.Sum(nil)
}
