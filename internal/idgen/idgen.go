// Package idgen mints spool ids and parses tag lists.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// New returns a fresh spool id: 16 lowercase hex characters sourced from
// a cryptographic RNG. If prefix is non-empty (harnesses that document a
// visible discriminator, e.g. "codex"), the id is returned as
// "<prefix>-<hex>".
func New(prefix string) (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("idgen: read random bytes: %w", err)
	}
	hexID := hex.EncodeToString(buf[:])
	if prefix == "" {
		return hexID, nil
	}
	return prefix + "-" + hexID, nil
}
