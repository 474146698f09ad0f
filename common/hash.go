package common

import (
	"encoding/binary"

	"golang.org/x/crypto/sha3"
)

func Keccak256(data []byte) Hash {
	hash := sha3.NewLegacyKeccak256()
	hash.Write(data)
	h := hash.Sum(nil)
	return BytesToHash(h)
}

// Keccak256Concat hashes the concatenation of the given byte slices
// without building an intermediate buffer.
func Keccak256Concat(parts ...[]byte) Hash {
	hash := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		hash.Write(p)
	}
	h := hash.Sum(nil)
	return BytesToHash(h)
}

func Uint64ToBytes(val uint64) []byte {
	bytes := make([]byte, 8)
	binary.BigEndian.PutUint64(bytes, val)
	return bytes
}

// Uint64ToBytes32 encodes val as a 32-byte big-endian integer, the
// fixed-width form used for Merkle leaf encoding.
func Uint64ToBytes32(val uint64) []byte {
	bytes := make([]byte, 32)
	binary.BigEndian.PutUint64(bytes[24:], val)
	return bytes
}

func BytesToUint64(data []byte) uint64 {
	if len(data) < 8 {
		panic("BytesToUint64: byte slice too short")
	}
	return binary.BigEndian.Uint64(data)
}
