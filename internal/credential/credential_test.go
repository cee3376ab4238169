package credential_test

import (
	"testing"

	"github.com/shelfmark/auth-gateway/internal/credential"
)

func storedCredential(login, password string) credential.Credential {
	salt := credential.NewSalt()
	return credential.Credential{
		Login: login,
		Salt:  salt,
		Hash:  credential.Digest(password, login, salt),
	}
}

func TestVerify_CorrectPair(t *testing.T) {
	stored := storedCredential("admin", "s3cret")

	if !credential.Verify("admin", "s3cret", stored) {
		t.Error("expected the correct pair to verify")
	}
}

func TestVerify_WrongPassword(t *testing.T) {
	stored := storedCredential("admin", "s3cret")

	if credential.Verify("admin", "guess", stored) {
		t.Error("a wrong password must not verify")
	}
}

func TestVerify_WrongLogin(t *testing.T) {
	stored := storedCredential("admin", "s3cret")

	// The digest binds the login, so even the right password under the
	// wrong login must fail.
	if credential.Verify("root", "s3cret", stored) {
		t.Error("an unknown login must not verify")
	}
}

func TestVerify_UnconfiguredCredential(t *testing.T) {
	if credential.Verify("admin", "s3cret", credential.Credential{}) {
		t.Error("an empty stored credential must never verify")
	}
}

func TestVerify_EmptySubmission(t *testing.T) {
	stored := storedCredential("admin", "s3cret")

	if credential.Verify("", "", stored) {
		t.Error("empty submissions must not verify")
	}
}

func TestDigest_DeterministicAndHex(t *testing.T) {
	a := credential.Digest("pw", "admin", "salt")
	b := credential.Digest("pw", "admin", "salt")

	if a != b {
		t.Error("digest must be deterministic")
	}
	if len(a) != 40 {
		t.Errorf("expected a 40-char hex sha1 digest, got %d chars", len(a))
	}
	if a == credential.Digest("pw", "admin", "other-salt") {
		t.Error("salt must change the digest")
	}
}

func TestNewSalt_Unique(t *testing.T) {
	if credential.NewSalt() == credential.NewSalt() {
		t.Error("salts must be random")
	}
	if len(credential.NewSalt()) != 40 {
		t.Error("expected a 40-char hex salt")
	}
}

func TestAnonymize(t *testing.T) {
	if credential.Anonymize("") != "" {
		t.Error("empty login anonymizes to empty")
	}
	if credential.Anonymize("admin") == "admin" {
		t.Error("anonymized login must not be the raw value")
	}
	if len(credential.Anonymize("admin")) != 8 {
		t.Errorf("expected 8 hex chars, got %q", credential.Anonymize("admin"))
	}
}
