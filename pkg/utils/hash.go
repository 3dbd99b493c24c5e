package utils

import (
	"crypto/sha256"
	"fmt"
)

func HashString(input string) string {
	hash := sha256.Sum256([]byte(input))
	return fmt.Sprintf("%x", hash)
}

// Fingerprint returns the content fingerprint used to derive stable document
// identifiers.
func Fingerprint(content []byte) string {
	hash := sha256.Sum256(content)
	return fmt.Sprintf("%x", hash)
}

// DocumentID derives the stable identifier for a source: a SHA-256 over the
// source path and content fingerprint, truncated to 16 hex characters.
func DocumentID(sourcePath, fingerprint string) string {
	hash := sha256.Sum256([]byte(sourcePath + ":" + fingerprint))
	return fmt.Sprintf("%x", hash)[:16]
}
