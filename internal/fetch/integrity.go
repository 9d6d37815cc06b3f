package fetch

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// VerifyIntegrity checks data against an SRI string such as
// "sha512-<base64>". Multiple space separated hashes pass if any matches.
// An empty sri is not checked.
func VerifyIntegrity(data []byte, sri string) error {
	if sri == "" {
		return nil
	}

	var lastErr error
	for _, h := range strings.Fields(sri) {
		algo, want, ok := strings.Cut(h, "-")
		if !ok {
			lastErr = fmt.Errorf("malformed integrity %q", h)
			continue
		}
		// Options after '?' are allowed by SRI and ignored.
		want, _, _ = strings.Cut(want, "?")

		var sum []byte
		switch algo {
		case "sha512":
			s := sha512.Sum512(data)
			sum = s[:]
		case "sha384":
			s := sha512.Sum384(data)
			sum = s[:]
		case "sha256":
			s := sha256.Sum256(data)
			sum = s[:]
		case "sha1":
			s := sha1.Sum(data)
			sum = s[:]
		default:
			lastErr = fmt.Errorf("unsupported integrity algorithm %q", algo)
			continue
		}

		if got := base64.StdEncoding.EncodeToString(sum); got == want {
			return nil
		}
		lastErr = fmt.Errorf("integrity mismatch: expected %s, got %s-%s", h, algo, base64.StdEncoding.EncodeToString(sum))
	}

	if lastErr == nil {
		lastErr = errors.New("no usable integrity hash")
	}
	return lastErr
}
