package analysis

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"
)

const (
	// FingerprintLength is the number of hex characters kept from the full
	// sha256 digest. Truncation trades collision probability for shorter,
	// filesystem-friendly cache keys.
	FingerprintLength = 16

	// digestChunkSize bounds memory use while hashing large binaries.
	digestChunkSize = 64 * 1024
)

// Fingerprint computes the content fingerprint for the file at path:
// a streaming sha256 truncated to FingerprintLength hex characters.
// Identical byte content always yields the same fingerprint.
func Fingerprint(fs afero.Fs, path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return "", fmt.Errorf("open for digest: %w", err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	buf := make([]byte, digestChunkSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			_, _ = h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			if os.IsNotExist(err) {
				return "", fmt.Errorf("%w: %s", ErrNotFound, path)
			}
			return "", fmt.Errorf("read for digest: %w", err)
		}
	}

	return hex.EncodeToString(h.Sum(nil))[:FingerprintLength], nil
}
