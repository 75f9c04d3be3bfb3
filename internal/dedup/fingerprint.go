// Package dedup implements alert fingerprinting and the TTL-based
// deduplication store. A fingerprint is a stable hash over an envelope's
// classification fields; two envelopes with equal classification fields
// collapse to one fingerprint regardless of payload differences.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"chainalert/internal/types"
)

// fingerprintFields fixes the field order of the hashed document so the
// fingerprint is stable across processes. Missing fields hash as empty
// strings.
type fingerprintFields struct {
	Address  string `json:"address"`
	Chain    string `json:"chain"`
	Severity string `json:"severity"`
	Title    string `json:"title"`
	Type     string `json:"type"`
}

// Fingerprint returns the first 32 hex characters of a SHA-256 over the
// envelope's classification fields.
func Fingerprint(env types.AlertEnvelope) string {
	doc, _ := json.Marshal(fingerprintFields{
		Address:  env.Address,
		Chain:    env.Chain,
		Severity: string(env.Severity),
		Title:    env.Title,
		Type:     env.AlertType,
	})
	sum := sha256.Sum256(doc)
	return hex.EncodeToString(sum[:])[:32]
}
