package helpers

import (
	"bytes"

	"github.com/google/uuid"
)

// Add this function to generate UUIDs
func GenerateUUID() string {
	return uuid.New().String()
}

// JoinBytes concatenates byte slices into a freshly allocated slice.
func JoinBytes(parts ...[]byte) []byte {
	size := 0
	for _, p := range parts {
		size += len(p)
	}
	joined := make([]byte, 0, size)
	for _, p := range parts {
		joined = append(joined, p...)
	}
	return joined
}

// CopyBytes returns an independent copy of b.
func CopyBytes(b []byte) []byte {
	c := make([]byte, len(b))
	copy(c, b)
	return c
}

// HasPrefix reports whether key starts with prefix.
func HasPrefix(key, prefix []byte) bool {
	return bytes.HasPrefix(key, prefix)
}

// CompareBytes orders two byte slices lexicographically.
func CompareBytes(a, b []byte) int {
	return bytes.Compare(a, b)
}
