// Package auth implements the optional admission-token check performed
// before a WebSocket upgrade is accepted (spec §4.7's external admission
// collaborator): a single shared token, hashed with argon2id at rest, the
// client presents at connect time.
//
// Narrowed from the teacher's APIKeyService/api_key.go: this domain has no
// identities, multiple keys, or revocation list to manage — a riptide
// server admits or refuses a connection, it doesn't authenticate a
// per-identity principal. The argon2id hashing/verification primitive is
// carried over unchanged since it's still the right tool for "never store
// the raw secret."
package auth

import (
	"errors"

	"github.com/alexedwards/argon2id"
)

// ErrInvalidToken is returned when the presented admission token doesn't
// match the configured hash.
var ErrInvalidToken = errors.New("auth: invalid admission token")

// argonParams mirrors the teacher's OWASP-minimum Argon2id parameters.
var argonParams = &argon2id.Params{
	Memory:      47 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashToken returns an Argon2id PHC-format hash of a raw admission token,
// for operators generating a token_hash to put in ServerConfig.
func HashToken(raw string) (string, error) {
	return argon2id.CreateHash(raw, argonParams)
}

// Admitter gates connection acceptance against a single configured token
// hash. A zero-value Admitter (no hash configured) admits everyone.
type Admitter struct {
	hash    string
	enabled bool
}

// NewAdmitter builds an Admitter from a stored PHC-format hash. enabled
// lets the caller construct a disabled Admitter from ServerConfig without
// a branch at every call site.
func NewAdmitter(hash string, enabled bool) *Admitter {
	return &Admitter{hash: hash, enabled: enabled}
}

// Check validates raw against the configured hash. When the Admitter is
// disabled, every token is admitted, including an empty one — this is the
// "no admission control configured" state, not a permissive default
// applied to a misconfigured one.
func (a *Admitter) Check(raw string) error {
	if a == nil || !a.enabled {
		return nil
	}
	match, err := argon2id.ComparePasswordAndHash(raw, a.hash)
	if err != nil {
		return ErrInvalidToken
	}
	if !match {
		return ErrInvalidToken
	}
	return nil
}
