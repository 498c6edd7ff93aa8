// Package sha256 fingerprints shop records for the postgres output. Equal
// records give equal fingerprints across runs, which lets consumers spot
// unchanged shops without comparing every column.
package sha256

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Hasher fingerprints serialised records.
type Hasher struct{}

// New returns a Hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex SHA-256 of data. JSON payloads are compacted first so
// indentation does not change the fingerprint; other input is hashed as is.
func (h *Hasher) Hash(data []byte) (string, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err == nil {
		data = buf.Bytes()
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
