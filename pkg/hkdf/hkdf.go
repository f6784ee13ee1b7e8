// Package hkdf derives independent, purpose-bound sub-keys from a single
// master key using the HKDF-Expand construction (RFC 5869) over HMAC-SHA256.
//
// Purpose isolation comes from the context label: keys derived under
// different labels are computationally independent, so a MAC master key can
// safely feed an encryption key without provisioning a second secret.
package hkdf

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// MaxOutputSize is the maximum amount of key material a single Expand call
// can produce: 255 blocks of the HMAC-SHA256 output size.
const MaxOutputSize = 255 * sha256.Size

// Expand derives outputKeySize bytes of key material from masterKey,
// bound to the given context label.
//
// The derivation is deterministic: the same master key, context and size
// always produce the same key.
func Expand(masterKey []byte, context string, outputKeySize int) ([]byte, error) {
	if outputKeySize <= 0 {
		return nil, fmt.Errorf("hkdf: invalid output key size %d", outputKeySize)
	}

	if outputKeySize > MaxOutputSize {
		return nil, fmt.Errorf("hkdf: requested output key size %d exceeds maximum %d", outputKeySize, MaxOutputSize)
	}

	output := make([]byte, outputKeySize)

	_, err := io.ReadFull(hkdf.Expand(sha256.New, masterKey, []byte(context)), output)
	if err != nil {
		// The expander only fails past the 255-block bound, which is checked above.
		// Reaching this indicates a broken configuration, not a runtime condition.
		return nil, fmt.Errorf("hkdf: expanding key: %w", err)
	}

	return output, nil
}
