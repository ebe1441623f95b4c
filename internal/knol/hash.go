package knol

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/conorfennell/knolsched/internal/domain"
)

// Normalize concatenates the card's content after cleaning each part.
// Each field is trimmed, lowercased and has its line endings normalized.
func Normalize(card domain.Card) string {
	normalizePart := func(part string) string {
		p := strings.ToLower(part)
		p = strings.TrimSpace(p)
		p = strings.ReplaceAll(p, "\r\n", "\n")
		return p
	}

	// Joined with a newline so adjacent fields cannot run together.
	return strings.Join([]string{
		normalizePart(card.Front),
		normalizePart(card.Back),
		normalizePart(card.Example),
	}, "\n")
}

// Hash returns the SHA-256 of the normalized content as a hex string.
// Identical content always yields the same card identifier, which keeps
// interval fuzz reproducible across re-imports.
func Hash(card domain.Card) string {
	sum := sha256.Sum256([]byte(Normalize(card)))
	return fmt.Sprintf("%x", sum)
}

// Short returns the leading n characters of a hash for display.
func Short(hash string, n int) string {
	if len(hash) <= n {
		return hash
	}
	return hash[:n]
}
