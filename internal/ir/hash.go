package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content digests. The version suffix leaves room for an
// algorithm change without colliding with old digests.
const (
	DomainEnvelope = "verdict/envelope/v1"
	DomainReport   = "verdict/report/v1"
	DomainConfig   = "verdict/config/v1"
)

// HashWithDomain computes SHA256(domain || 0x00 || data).
// The null separator keeps domain and data from running into each other.
func HashWithDomain(domain string, data []byte) [32]byte {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// HexDigest is HashWithDomain rendered as lowercase hex.
func HexDigest(domain string, data []byte) string {
	sum := HashWithDomain(domain, data)
	return hex.EncodeToString(sum[:])
}

// ObjectDigest canonicalizes obj and digests it under domain.
func ObjectDigest(domain string, obj IRObject) (string, error) {
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("digest %s: %w", domain, err)
	}
	return HexDigest(domain, canonical), nil
}
