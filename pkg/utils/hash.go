package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// SumSHA256 returns the SHA-256 checksum of the provided data.
func SumSHA256(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// Checksum returns the hex SHA-256 of parts, each separated by a zero byte so
// that moving bytes between parts changes the result.
func Checksum(parts ...[]byte) string {
	var buf []byte
	for i, p := range parts {
		if i > 0 {
			buf = append(buf, 0)
		}
		buf = append(buf, p...)
	}
	sum := SumSHA256(buf)
	return hex.EncodeToString(sum[:])
}
