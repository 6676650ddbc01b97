package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/Ruzakiff/crazygpt/internal/util"
)

// tokenPrefix marks prepaid token ids so they are recognizable in support requests.
const tokenPrefix = "bt_"

// tokenEntropyBytes is the number of random bytes behind each token id.
const tokenEntropyBytes = 16

// GenerateTokenID creates a new random, URL-safe prepaid token id.
func GenerateTokenID() (string, error) {
	secret := make([]byte, tokenEntropyBytes)
	if _, err := io.ReadFull(rand.Reader, secret); err != nil {
		return "", fmt.Errorf("generate token id: %w", err)
	}
	return tokenPrefix + base64.RawURLEncoding.EncodeToString(secret), nil
}

// MaskToken obscures a token id for logs and telemetry rows.
func MaskToken(token string) string {
	return util.HideSecret(token)
}
