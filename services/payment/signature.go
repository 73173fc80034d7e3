package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign returns the hex HMAC-SHA256 of message under secret.
func Sign(secret string, message []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

func PaymentSignature(secret, gatewayOrderID, paymentID string) string {
	return Sign(secret, []byte(gatewayOrderID+"|"+paymentID))
}

func signatureMatches(expected, got string) bool {
	return hmac.Equal([]byte(expected), []byte(got))
}
