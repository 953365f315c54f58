// Package signing computes keyed digests over a canonical parameter string.
//
// Two algorithms serve two purposes. SignLegacy is the MD5 api_sig the
// Last.fm API expects on authenticated methods. SignRequest is a SHA-256
// digest used to check that an inbound request came from a trusted caller.
// Both hash k1v1k2v2...<secret> over the parameters left after removing
// api_sig, format and callback.
package signing

import (
	"crypto/md5" //nolint:gosec // required by the upstream api_sig scheme.
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"hash"
	"strings"

	"github.com/lastfmproxy/lastfmproxy/internal/params"
)

// Header carries the inbound SHA-256 signature.
const Header = "X-Request-Signature"

// Message returns the string that is hashed: sorted key/value pairs with no
// separators, followed by secret.
func Message(p params.Set, secret string) string {
	var b strings.Builder
	for _, pair := range params.Canonicalize(p, params.SignatureExclusions) {
		b.WriteString(pair.Key)
		b.WriteString(pair.Value)
	}
	b.WriteString(secret)
	return b.String()
}

// SignLegacy returns the lowercase hex MD5 api_sig for p.
func SignLegacy(p params.Set, secret string) string {
	return digest(md5.New(), p, secret) //nolint:gosec
}

// SignRequest returns the lowercase hex SHA-256 signature for p.
func SignRequest(p params.Set, key string) string {
	return digest(sha256.New(), p, key)
}

// Verify reports whether supplied matches SignRequest(p, key). The comparison
// is constant-time and case-insensitive on the hex digits.
func Verify(p params.Set, key, supplied string) bool {
	want := SignRequest(p, key)
	got := strings.ToLower(strings.TrimSpace(supplied))
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

func digest(h hash.Hash, p params.Set, secret string) string {
	h.Write([]byte(Message(p, secret)))
	return hex.EncodeToString(h.Sum(nil))
}
