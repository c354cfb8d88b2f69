// Package token produces the opaque redemption tokens embedded in generated
// link URLs.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// minBytes is the smallest amount of entropy accepted per token. Anything
// below this is guessable enough to brute-force a live link.
const minBytes = 16

// DefaultBytes is the default entropy per token; 32 bytes encodes to a
// 43-character URL-safe string.
const DefaultBytes = 32

// Generator produces unique, URL-path-safe tokens. Tokens carry no relation
// to the sequential display tags, so knowing one token (or a tag) reveals
// nothing about its neighbours.
type Generator struct {
	numBytes int
}

// NewGenerator creates a Generator emitting tokens with the given number of
// random bytes. Values below the safe minimum are raised to the default.
func NewGenerator(numBytes int) *Generator {
	if numBytes < minBytes {
		numBytes = DefaultBytes
	}
	return &Generator{numBytes: numBytes}
}

// Generate returns a single random token.
func (g *Generator) Generate() (string, error) {
	buf := make([]byte, g.numBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// GenerateBatch returns count tokens with no duplicates within the batch.
// Collisions inside one batch are vanishingly rare at this entropy but the
// pairwise-distinct guarantee is checked rather than assumed. Uniqueness
// against stored tokens is enforced by the store's unique index; callers
// retry individual inserts on collision.
func (g *Generator) GenerateBatch(count int) ([]string, error) {
	if count <= 0 {
		return nil, nil
	}

	tokens := make([]string, 0, count)
	seen := make(map[string]struct{}, count)

	for len(tokens) < count {
		tok, err := g.Generate()
		if err != nil {
			return nil, err
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		tokens = append(tokens, tok)
	}

	return tokens, nil
}
