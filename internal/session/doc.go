// Package session issues and validates the credentials handed to callers
// after login.
//
// A credential is an HS256 JWT carrying the identity key, issue and expiry
// times (whole seconds), a random token id and a per-process sequence
// number. Validation pins the algorithm, verifies the MAC in constant time,
// accepts the credential only while IssuedAt <= now < ExpiresAt, consults
// the logout denylist and finally re-checks the invitation list, so a
// revoked identity is refused even with an unexpired credential.
package session
