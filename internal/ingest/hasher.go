package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Fingerprint computes the SHA-256 hex digest of r. The digest is the sole
// duplicate-detection identity: byte-identical content always produces the
// same fingerprint regardless of filename, size or media type.
func Fingerprint(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FingerprintBytes computes the fingerprint of an in-memory byte slice.
func FingerprintBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// FingerprintFile streams the file at path through the hasher. An I/O
// failure here is fatal for that candidate only.
func FingerprintFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %q: %w", path, err)
	}
	defer f.Close()
	fp, err := Fingerprint(f)
	if err != nil {
		return "", fmt.Errorf("hash %q: %w", path, err)
	}
	return fp, nil
}
