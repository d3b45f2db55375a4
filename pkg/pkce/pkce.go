// Package pkce generates Proof Key for Code Exchange verifier/challenge pairs
// (RFC 7636) for public OAuth 2.0 clients.
package pkce

import (
	"golang.org/x/oauth2"
)

const (
	// MethodS256 is the only challenge method this client sends.
	MethodS256 = "S256"

	// MinVerifierLength and MaxVerifierLength bound a valid code verifier.
	MinVerifierLength = 43
	MaxVerifierLength = 128
)

// Pair is a code verifier and the challenge derived from it. The verifier
// stays with the flow that generated it; only the challenge leaves the client.
type Pair struct {
	Verifier  string
	Challenge string
	Method    string
}

// String hides the verifier so a Pair can be logged safely.
func (p Pair) String() string {
	return "pkce.Pair{Challenge:" + p.Challenge + ", Method:" + p.Method + "}"
}

// Generate returns a fresh verifier of 32 random bytes encoded as unpadded
// base64url (43 characters) and its S256 challenge.
func Generate() (Pair, error) {
	verifier := oauth2.GenerateVerifier()
	return Pair{
		Verifier:  verifier,
		Challenge: Challenge(verifier),
		Method:    MethodS256,
	}, nil
}

// Challenge returns base64url(sha256(verifier)) without padding.
func Challenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// Valid reports whether verifier has a permitted length and uses only the
// unreserved characters [A-Za-z0-9-._~].
func Valid(verifier string) bool {
	if len(verifier) < MinVerifierLength || len(verifier) > MaxVerifierLength {
		return false
	}
	for i := 0; i < len(verifier); i++ {
		c := verifier[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '-', c == '.', c == '_', c == '~':
		default:
			return false
		}
	}
	return true
}
