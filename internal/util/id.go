// Package util provides the identifier scheme shared by the whole service:
// usr_/iss_/med_/asg_/jti_ prefixed random tokens.
package util

import (
	"crypto/rand"
	"encoding/hex"
)

const idEntropyBytes = 16

// NewID returns a 128-bit random identifier rendered as hex, prefixed with
// the entity tag (e.g. "iss" -> iss_3f9a...). An empty prefix yields the
// bare hex string, which is what refresh-token material is built from.
func NewID(prefix string) string {
	buf := make([]byte, idEntropyBytes)
	_, _ = rand.Read(buf)
	if prefix == "" {
		return hex.EncodeToString(buf)
	}
	return prefix + "_" + hex.EncodeToString(buf)
}
