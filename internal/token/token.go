// Package token issues and validates the signed action tokens embedded in the
// accept/refuse links sent to candidates.
package token

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const minSecretLen = 32

type claims struct {
	CandidateID   string `json:"cid"`
	AttributionID string `json:"aid"`
	jwt.RegisteredClaims
}

type Issuer struct {
	secret   []byte
	validity time.Duration
	now      func() time.Time
}

type Option func(*Issuer)

// WithClock overrides the time source used for issuing and validating.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		i.now = now
	}
}

func NewIssuer(secret string, validity time.Duration, opts ...Option) (*Issuer, error) {
	if len(secret) < minSecretLen {
		return nil, fmt.Errorf("token secret must be at least %d bytes", minSecretLen)
	}
	if validity <= 0 {
		return nil, errors.New("token validity must be positive")
	}
	i := &Issuer{
		secret:   []byte(secret),
		validity: validity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Issue signs a token binding candidateID to attributionID until the validity
// window elapses.
func (i *Issuer) Issue(candidateID, attributionID string) (string, time.Time, error) {
	if candidateID == "" || attributionID == "" {
		return "", time.Time{}, errors.New("candidate and attribution ids are required")
	}
	issuedAt := i.now()
	expiresAt := issuedAt.Add(i.validity)

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		CandidateID:   candidateID,
		AttributionID: attributionID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := tok.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Validate reports whether raw was issued by this issuer for exactly the given
// candidate and attribution and has not expired. Any failure yields false.
func (i *Issuer) Validate(raw, candidateID, attributionID string) bool {
	if raw == "" || candidateID == "" || attributionID == "" {
		return false
	}

	var c claims
	parsed, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil || !parsed.Valid {
		return false
	}
	if c.ExpiresAt == nil {
		return false
	}
	return equal(c.CandidateID, candidateID) && equal(c.AttributionID, attributionID)
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
