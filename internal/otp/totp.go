// Package otp produces time-based one-time codes for the second
// authentication factor. It is a stateless utility: the same secret and
// timestamp always yield the same code.
package otp

import (
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// Generator derives TOTP codes from a shared secret.
type Generator struct {
	// Step is the time window a code stays valid for.
	Step time.Duration
	// Digits is the length of the produced numeric code.
	Digits int
}

// NewGenerator returns a Generator with the standard 30-second step and
// 6-digit codes.
func NewGenerator() Generator {
	return Generator{Step: 30 * time.Second, Digits: 6}
}

// Code computes the code for the given secret at the given instant.
func (g Generator) Code(secret string, at time.Time) (string, error) {
	normalized, err := normalizeSecret(secret)
	if err != nil {
		return "", err
	}

	code, err := totp.GenerateCodeCustom(normalized, at, totp.ValidateOpts{
		Period:    uint(g.Step.Seconds()),
		Digits:    otp.Digits(g.Digits),
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate one-time code: %w", err)
	}
	return code, nil
}

// Now computes the code for the current wall-clock time.
func (g Generator) Now(secret string) (string, error) {
	return g.Code(secret, time.Now())
}

// normalizeSecret tolerates the spacing and casing variants issuers show to
// humans: "base32 secret" and "BASE32SECRET" decode identically.
func normalizeSecret(secret string) (string, error) {
	s := strings.ToUpper(strings.ReplaceAll(secret, " ", ""))
	s = strings.TrimRight(s, "=")
	if s == "" {
		return "", fmt.Errorf("otp secret is empty")
	}
	if n := len(s) % 8; n != 0 {
		s += strings.Repeat("=", 8-n)
	}
	return s, nil
}
