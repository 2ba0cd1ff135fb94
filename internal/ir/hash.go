package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashes. The version suffix leaves room to
// change the document layout without colliding with old cache keys.
const (
	DomainFingerprint = "aggql/fingerprint/v1"
	DomainJoinAlias   = "aggql/join-alias/v1"
	DomainMemo        = "aggql/memo/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null byte keeps the domain/data boundary unambiguous.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Hash canonically encodes doc and hashes it under domain.
func Hash(domain string, doc IRValue) (string, error) {
	canonical, err := MarshalCanonical(doc)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", domain, err)
	}
	return hashWithDomain(domain, canonical), nil
}

// QueryFingerprint hashes a compiled query document. Two documents that
// differ only in map iteration order hash identically.
func QueryFingerprint(doc IRObject) (string, error) {
	return Hash(DomainFingerprint, doc)
}

// JoinAliasHash hashes the semantic inputs of one join instantiation and
// returns the short form used inside SQL identifiers.
func JoinAliasHash(doc IRObject) (string, error) {
	full, err := Hash(DomainJoinAlias, doc)
	if err != nil {
		return "", err
	}
	return full[:10], nil
}

// MemoKey hashes the identity of one resolved column instance.
func MemoKey(doc IRObject) (string, error) {
	return Hash(DomainMemo, doc)
}
