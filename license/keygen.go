package license

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"strings"
)

const (
	keyAlphabet     = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	keySegments     = 4
	keySegmentChars = 4
)

// KeyPattern matches issued license keys, e.g. 7F2K-9QXN-04ZH-MB31.
var KeyPattern = regexp.MustCompile(`^[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}$`)

// GenerateKey returns a fresh license key drawn from crypto/rand. Uniqueness
// is enforced by the store's UNIQUE constraint, not by construction; callers
// retry on ErrDuplicateLicenseKey.
func GenerateKey() (string, error) {
	buf := make([]byte, keySegments*keySegmentChars)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}

	var b strings.Builder
	for i, c := range buf {
		if i > 0 && i%keySegmentChars == 0 {
			b.WriteByte('-')
		}
		b.WriteByte(keyAlphabet[int(c)%len(keyAlphabet)])
	}
	return b.String(), nil
}
