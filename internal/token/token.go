// Package token produces the shared secret clients must present before
// they may chat.
package token

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/martinhoefling/goxkcdpwgen/xkcdpwgen"

	chaterrors "chatd/internal/errors"
)

// Formats.
const (
	FormatHex   = "hex"
	FormatWords = "words"
)

// Generate returns a fresh token.  For FormatHex, length is the number
// of random bytes and the token is twice as many uppercase hex digits.
// For FormatWords, length is the number of dictionary words, joined
// with "-".
func Generate(format string, length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("token length must be positive, got %d", length)
	}
	switch format {
	case FormatHex:
		return hexToken(length)
	case FormatWords:
		return wordsToken(length), nil
	default:
		return "", fmt.Errorf("%w: %q", chaterrors.ErrUnknownTokenFormat, format)
	}
}

func hexToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return strings.ToUpper(hex.EncodeToString(b)), nil
}

func wordsToken(n int) string {
	g := xkcdpwgen.NewGenerator()
	g.SetNumWords(n)
	g.SetDelimiter("-")
	g.SetCapitalize(false)
	return g.GeneratePasswordString()
}
