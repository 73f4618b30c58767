package util

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"time"
)

// --------------------------------------------------------------------------
// General Utility Functions
// --------------------------------------------------------------------------

// GroupIDLen is the length of a consensus group identifier in characters.
const GroupIDLen = 16

// GenerateGroupID creates a new random group identifier (GroupIDLen hex chars).
func GenerateGroupID() string {
	var b [GroupIDLen / 2]byte
	if _, err := rand.Read(b[:]); err != nil {
		binary.LittleEndian.PutUint64(b[:], uint64(time.Now().UnixNano()))
	}
	return hex.EncodeToString(b[:])
}

// --------------------------------------------------------------------------
// Hash Functions
// --------------------------------------------------------------------------

// HashString generates a hash value for a string with a seed.
// This function uses the FNV-1a hash algorithm, which is fast and has good distribution.
func HashString(s string, seed uint64) uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)

	hash := uint64(offset64) ^ seed

	for i := 0; i < len(s); i++ {
		hash ^= uint64(s[i])
		hash *= prime64
	}

	return hash
}
