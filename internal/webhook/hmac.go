package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

// verifySignature verifies a GitHub X-Hub-Signature-256 header against the
// request body.
//
// Only the "sha256=<hex>" form is accepted. Comparison uses crypto/subtle to
// prevent timing attacks, and all errors are generic so no format or secret
// details leak to the sender.
func verifySignature(body []byte, signature, secret string) error {
	if secret == "" {
		return fmt.Errorf("signature verification failed")
	}
	if signature == "" {
		return fmt.Errorf("signature verification failed")
	}

	actualMAC, err := parseSignature(signature)
	if err != nil {
		return fmt.Errorf("signature verification failed")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expectedMAC := mac.Sum(nil)

	if subtle.ConstantTimeCompare(expectedMAC, actualMAC) != 1 {
		return fmt.Errorf("signature verification failed")
	}
	return nil
}

// parseSignature decodes an X-Hub-Signature-256 value. The "sha256=" prefix
// is required; bare hex is rejected.
func parseSignature(signature string) ([]byte, error) {
	hexSig, ok := strings.CutPrefix(signature, "sha256=")
	if !ok {
		return nil, fmt.Errorf("missing sha256= prefix")
	}
	return hex.DecodeString(hexSig)
}

// computeSignature computes the hex HMAC-SHA256 of body. Used by tests and
// the delivery replay tooling.
func computeSignature(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// formatSignatureHeader formats a hex signature as GitHub sends it.
func formatSignatureHeader(hexSig string) string {
	return "sha256=" + hexSig
}
