package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashes.
// The version suffix allows the algorithm to change without collisions.
const (
	DomainNode       = "lineage/node/v1"
	DomainObject     = "lineage/object/v1"
	DomainCheckpoint = "lineage/checkpoint/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// NodeHashInput is the material a node's content hash covers.
// Updatable attributes are excluded by the caller before hashing.
type NodeHashInput struct {
	Subtype    string
	Attributes IRObject
	// Files maps repository paths to object digests.
	Files map[string]string
	// Inputs maps incoming input link labels to the source node hash.
	Inputs map[string]string
}

// NodeHash computes the content hash of a node.
// Two nodes with equal hashes are interchangeable for caching.
func NodeHash(in NodeHashInput) (string, error) {
	files := make(IRObject, len(in.Files))
	for path, digest := range in.Files {
		files[path] = IRString(digest)
	}
	inputs := make(IRObject, len(in.Inputs))
	for label, h := range in.Inputs {
		inputs[label] = IRString(h)
	}
	attrs := in.Attributes
	if attrs == nil {
		attrs = IRObject{}
	}

	obj := IRObject{
		"subtype":    IRString(in.Subtype),
		"attributes": attrs,
		"files":      files,
		"inputs":     inputs,
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("NodeHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainNode, canonical), nil
}

// MustNodeHash is like NodeHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustNodeHash(in NodeHashInput) string {
	h, err := NodeHash(in)
	if err != nil {
		panic(err)
	}
	return h
}

// ObjectKey computes the content address of a repository file.
func ObjectKey(content []byte) string {
	return hashWithDomain(DomainObject, content)
}

// CheckpointDigest fingerprints a serialized checkpoint so corrupted
// checkpoints are detected at recovery.
func CheckpointDigest(payload []byte) string {
	return hashWithDomain(DomainCheckpoint, payload)
}
