package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Signer mints and verifies the tokens embedded in review links. The token
// is the first N hex characters of an HMAC-SHA256 over the concatenated
// parts, so a link only proves it was minted by this service for these
// exact parameter values.
//
// With the default length of 10 hex characters the token carries 40 bits:
// that is deliberate truncation for link usability and is brute-forceable
// offline. Treat it as obscurity gating a form, not as authorization; raise
// Length if the link ever guards anything sensitive.
type Signer struct {
	secret []byte
	length int
}

const DefaultLength = 10

func New(secret string, length int) *Signer {
	if length < 1 {
		length = DefaultLength
	}
	return &Signer{secret: []byte(secret), length: length}
}

// Sign returns the token for the given parts. Part order matters: the
// parts are concatenated in the order supplied.
func (s *Signer) Sign(parts ...any) string {
	mac := hmac.New(sha256.New, s.secret)
	for _, part := range parts {
		fmt.Fprint(mac, part)
	}
	digest := hex.EncodeToString(mac.Sum(nil))
	if s.length > len(digest) {
		return digest
	}
	return digest[:s.length]
}

// Verify reports whether token matches the signature of parts. The
// comparison is case-insensitive so links survive case-mangling mail
// clients and proxies.
func (s *Signer) Verify(token string, parts ...any) bool {
	if token == "" {
		return false
	}
	return strings.EqualFold(token, s.Sign(parts...))
}
