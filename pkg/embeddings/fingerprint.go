package embeddings

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint is the content-addressed cache key for an embedding:
// hash(model, model version, normalized text). Identical fingerprints
// imply identical vectors for a deterministic provider.
type Fingerprint string

// FingerprintFor computes the fingerprint for a (model, text) pair.
// Text normalization is deliberately minimal and deterministic: trim
// and collapse internal whitespace runs to a single space.
func FingerprintFor(model, modelVersion, text string) Fingerprint {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(modelVersion))
	h.Write([]byte{0})
	h.Write([]byte(normalizeText(text)))
	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}

func normalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
