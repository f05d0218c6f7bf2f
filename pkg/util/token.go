package util

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// GenerateRedemptionCode returns a short random code handed to the agent when
// a reward order item is fulfilled without an operator-supplied code.
func GenerateRedemptionCode() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return strings.ToUpper(hex.EncodeToString(b))
}
