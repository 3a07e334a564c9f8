package unibuild

import (
	"fmt"
	"io"
	"os"

	"lukechampine.com/blake3"
)

// hashString names cache entries; the URL plus version keeps stale
// tarballs from being reused across version bumps.
func hashString(s string) string {
	h := blake3.New(32, nil)
	h.Write([]byte(s))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// fileChecksum returns the blake3 hex digest of a file.
func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New(32, nil)
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// verifyChecksum compares a file against a pinned digest. An empty pin
// skips verification with a warning, matching the "trust on first use"
// behavior of the checksum command.
func verifyChecksum(path, want string) error {
	if want == "" {
		colWarn.Printf("No checksum pinned for %s, skipping verification\n", path)
		return nil
	}
	got, err := fileChecksum(path)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("checksum mismatch for %s: got %s, want %s", path, got, want)
	}
	return nil
}
