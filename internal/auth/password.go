package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/crypto/argon2"
)

// Tuned for small VPS instances while still using Argon2id.
const (
	argonMemory      = 32 * 1024 // 32 MiB
	argonIterations  = 2
	argonParallelism = 1
	argonKeyLen      = 32
	saltLen          = 16
)

var (
	ErrPasswordTooShort = errors.New("password too short")
	ErrPasswordTooLong  = errors.New("password too long")
	ErrPasswordWeak     = errors.New("password must mix letters and digits or symbols")
)

// CheckPasswordPolicy enforces length bounds (in runes) and a minimal mix
// of character classes.
func CheckPasswordPolicy(pw string, minLen, maxLen int) error {
	n := utf8.RuneCountInString(pw)
	if n < minLen {
		return ErrPasswordTooShort
	}
	if maxLen > 0 && n > maxLen {
		return ErrPasswordTooLong
	}
	var letter, other bool
	for _, r := range pw {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r), unicode.IsPunct(r), unicode.IsSymbol(r), unicode.IsSpace(r):
			other = true
		}
	}
	if !letter || !other {
		return ErrPasswordWeak
	}
	return nil
}

func HashPassword(pw string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey([]byte(pw), salt, argonIterations, argonMemory, argonParallelism, argonKeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argonMemory,
		argonIterations,
		argonParallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

func VerifyPassword(encoded, pw string) bool {
	p, ok := parseHash(encoded)
	if !ok {
		return false
	}
	other := argon2.IDKey([]byte(pw), p.salt, p.iterations, p.memory, p.parallelism, uint32(len(p.hash)))
	return subtle.ConstantTimeCompare(p.hash, other) == 1
}

// NeedsRehash reports whether encoded was produced with parameters other
// than the current ones.
func NeedsRehash(encoded string) bool {
	p, ok := parseHash(encoded)
	if !ok {
		return true
	}
	return p.memory != argonMemory || p.iterations != argonIterations || p.parallelism != argonParallelism
}

// DummyVerify burns the same work as a real verification so unknown
// accounts are not distinguishable by timing.
func DummyVerify(pw string) {
	_ = argon2.IDKey([]byte(pw), make([]byte, saltLen), argonIterations, argonMemory, argonParallelism, argonKeyLen)
}

type argonParams struct {
	memory      uint32
	iterations  uint32
	parallelism uint8
	salt        []byte
	hash        []byte
}

func parseHash(encoded string) (argonParams, bool) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return argonParams{}, false
	}
	var p argonParams
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.iterations, &p.parallelism); err != nil {
		return argonParams{}, false
	}
	var err error
	if p.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return argonParams{}, false
	}
	if p.hash, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil || len(p.hash) == 0 {
		return argonParams{}, false
	}
	return p, true
}
