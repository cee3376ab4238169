// Package credential holds the single stored credential pair and its verifier.
package credential

import (
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// Credential is the single salted-hash credential for the administrative
// account. Hash is the hex SHA-1 digest of password + login + salt, the format
// the bookmark application has always stored on disk.
type Credential struct {
	Login string
	Salt  string
	Hash  string
}

// Digest computes the credential hash for a password under a login and salt.
func Digest(password, login, salt string) string {
	sum := sha1.Sum([]byte(password + login + salt))
	return hex.EncodeToString(sum[:])
}

// NewSalt returns a fresh random salt.
func NewSalt() string {
	buf := make([]byte, 20)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// Verify reports whether the submitted login/password pair matches the stored
// credential. Both the login and the hash are compared in constant time; any
// mismatch, including an unconfigured credential, yields false. It never
// returns an error.
func Verify(login, password string, stored Credential) bool {
	if stored.Login == "" || stored.Hash == "" {
		return false
	}

	computed := Digest(password, login, stored.Salt)

	loginOK := subtle.ConstantTimeCompare([]byte(login), []byte(stored.Login)) == 1
	hashOK := subtle.ConstantTimeCompare([]byte(computed), []byte(stored.Hash)) == 1

	return loginOK && hashOK
}

// Anonymize returns a short digest of a login name for log lines, so failed
// guesses are correlatable without recording the guessed value.
func Anonymize(login string) string {
	if login == "" {
		return ""
	}
	h := sha256.Sum256([]byte(login))
	return fmt.Sprintf("%x", h[:4])
}
