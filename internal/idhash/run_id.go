package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeConfigHash hashes a canonical config encoding.
// Returns hex-encoded hash (64 characters).
func ComputeConfigHash(canonical []byte) string {
	hash := sha256.Sum256(canonical)
	return hex.EncodeToString(hash[:])
}

// ComputeRunID derives a replay run id from the config hash and dataset digest.
// Formula: SHA256(config_hash|dataset_digest), truncated to 32 hex characters.
func ComputeRunID(configHash, datasetDigest string) string {
	data := fmt.Sprintf("%s|%s", configHash, datasetDigest)

	hash := sha256.Sum256([]byte(data))
	return "bt-" + hex.EncodeToString(hash[:16])
}
