package migration

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/loomsearch/loom/pkg/vectorstore"
)

// recordChecksum hashes one record's identity, vector bytes, and
// payload. Vectors hash in their canonical little-endian encoding and
// payloads in Go's key-sorted JSON form, so the same logical record
// produces the same digest on every backend.
func recordChecksum(rec vectorstore.Record) (string, error) {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return "", fmt.Errorf("marshaling payload for %s: %w", rec.ID, err)
	}

	h := sha256.New()
	h.Write([]byte(rec.ID))
	h.Write([]byte{0})
	h.Write(vectorstore.EncodeVector(rec.Vector))
	h.Write([]byte{0})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// batchChecksum hashes a batch of records in ascending id order, so
// the digest does not depend on the order a backend returned them in.
func batchChecksum(records []vectorstore.Record) (string, error) {
	sorted := make([]vectorstore.Record, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	h := sha256.New()
	for _, rec := range sorted {
		sum, err := recordChecksum(rec)
		if err != nil {
			return "", err
		}
		h.Write([]byte(sum))
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
