package sipstack

import (
	"crypto/rand"
	"encoding/hex"

	sipgo "github.com/emiago/sipgo/sip"
)

// RFC3261BranchMagicCookie re-exports sipgo's cookie constant so callers that
// only need the literal don't have to import sipgo themselves.
const RFC3261BranchMagicCookie = sipgo.RFC3261BranchMagicCookie

// GenerateBranch delegates to sipgo for the actual random branch value, the
// "SIP stack library" generates branch IDs in SPEC_FULL's external-collaborator
// framing. Kept as a thin wrapper so every branch ID in this codebase goes
// through one call site.
func GenerateBranch() string {
	return sipgo.GenerateBranch()
}

// GenerateTag returns a random value with 128 bits of entropy from
// crypto/rand. RFC 3261 only requires 32 bits of randomness for dialog tags;
// the extra length lets RAF use the same helper for Digest nonces and opaques.
func GenerateTag() string {
	return randomHex(16)
}

// DefaultPort returns the default port for a transport name, delegating to
// sipgo's table so this stack's notion of "default" never drifts from the
// library that otherwise owns transport concerns.
func DefaultPort(protocol string) int {
	return sipgo.DefaultPort(protocol)
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
