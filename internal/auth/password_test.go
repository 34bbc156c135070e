package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestHashVerify(t *testing.T) {
	h, err := HashPassword("secret-123")
	if err != nil {
		t.Fatalf("hash error: %v", err)
	}
	if !VerifyPassword(h, "secret-123") {
		t.Fatalf("expected verify to pass")
	}
	if VerifyPassword(h, "wrong") {
		t.Fatalf("expected verify to fail")
	}
	if NeedsRehash(h) {
		t.Fatalf("fresh hash should not need rehash")
	}
	if !NeedsRehash("$argon2id$v=19$m=1024,t=1,p=1$c2FsdA$aGFzaA") {
		t.Fatalf("weaker params should need rehash")
	}
	if VerifyPassword("not-a-hash", "secret-123") {
		t.Fatalf("garbage hash must not verify")
	}
}

func TestCheckPasswordPolicy(t *testing.T) {
	cases := []struct {
		pw   string
		want error
	}{
		{"short1", ErrPasswordTooShort},
		{strings.Repeat("a1", 40), ErrPasswordTooLong},
		{"onlyletters", ErrPasswordWeak},
		{"1234567890", ErrPasswordWeak},
		{"letters-and-1", nil},
		{"пароль-длинный", nil},
	}
	for _, tc := range cases {
		if err := CheckPasswordPolicy(tc.pw, 8, 64); !errors.Is(err, tc.want) {
			t.Fatalf("policy(%q) = %v, want %v", tc.pw, err, tc.want)
		}
	}
}

func TestOpaqueTokenHash(t *testing.T) {
	raw, hash, err := NewOpaqueToken()
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if raw == "" || hash != HashToken(raw) || hash == raw {
		t.Fatalf("unexpected token pair %q %q", raw, hash)
	}
}

func TestTokenIssuerRoundTrip(t *testing.T) {
	iss := NewTokenIssuer("0123456789abcdef0123456789abcdef", "devforum", time.Minute)
	raw, exp, err := iss.Issue("u1", "u1@example.com", "s1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Fatalf("expiry in the past: %v", exp)
	}
	c, err := iss.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.Subject != "u1" || c.SessionID != "s1" || c.Email != "u1@example.com" {
		t.Fatalf("claims = %+v", c)
	}
}

func TestTokenIssuerRejects(t *testing.T) {
	iss := NewTokenIssuer("0123456789abcdef0123456789abcdef", "devforum", time.Minute)
	raw, _, _ := iss.Issue("u1", "u1@example.com", "s1")

	other := NewTokenIssuer("ffffffffffffffffffffffffffffffff", "devforum", time.Minute)
	if _, err := other.Parse(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong key: %v", err)
	}
	wrongIssuer := NewTokenIssuer("0123456789abcdef0123456789abcdef", "someone-else", time.Minute)
	if _, err := wrongIssuer.Parse(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong issuer: %v", err)
	}

	late := NewTokenIssuer("0123456789abcdef0123456789abcdef", "devforum", time.Minute)
	late.now = func() time.Time { return time.Now().Add(time.Hour) }
	if _, err := late.Parse(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired: %v", err)
	}
}
