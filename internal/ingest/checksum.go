package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// SHA256File is the default Checksummer: a cryptographic digest of the
// file's bytes, computed before any row parsing begins.
func SHA256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
