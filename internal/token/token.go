// Package token issues and validates approval tokens.
//
// An approval token is an HS256-signed JWT bound to one workflow and one
// founder email. Validation answers only "valid or not": every failure maps
// to ErrInvalidToken so callers cannot learn why a token was refused.
//
// A valid token is necessary but not sufficient. Tokens cannot be revoked
// individually; callers must re-check the owning workflow's status.
package token

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Purpose is the fixed purpose claim carried by approval tokens.
const Purpose = "workflow_approval"

// MinKeyLen is the minimum HMAC key size in bytes.
const MinKeyLen = 32

const nonceBytes = 16

var (
	// ErrInvalidToken is the single error returned for any rejected token.
	ErrInvalidToken = errors.New("invalid token")

	// ErrWeakKey is returned by NewService for short signing keys.
	ErrWeakKey = fmt.Errorf("signing key must be at least %d bytes", MinKeyLen)
)

// Subject is what a valid token proves.
type Subject struct {
	WorkflowID   string
	FounderEmail string
	TokenID      string
	IssuedAt     time.Time
	ExpiresAt    time.Time
}

// Issuer creates approval tokens.
type Issuer interface {
	Issue(workflowID, founderEmail string, expiresAt time.Time) (string, error)
}

// Validator checks approval tokens.
type Validator interface {
	Validate(token string) (*Subject, error)
}

type claims struct {
	Email   string `json:"email"`
	Purpose string `json:"purpose"`
	Nonce   string `json:"nonce"`
	jwt.RegisteredClaims
}

// Service implements Issuer and Validator.
type Service struct {
	key    []byte
	issuer string
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a token service signing with key.
func NewService(key []byte, issuer string, opts ...Option) (*Service, error) {
	if len(key) < MinKeyLen {
		return nil, ErrWeakKey
	}
	if issuer == "" {
		return nil, errors.New("issuer is required")
	}
	s := &Service{
		key:    append([]byte(nil), key...),
		issuer: issuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue signs a token for workflowID that expires at expiresAt.
func (s *Service) Issue(workflowID, founderEmail string, expiresAt time.Time) (string, error) {
	if workflowID == "" || founderEmail == "" {
		return "", errors.New("workflow id and founder email are required")
	}

	nonce := make([]byte, nonceBytes)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	c := claims{
		Email:   founderEmail,
		Purpose: Purpose,
		Nonce:   hex.EncodeToString(nonce),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   workflowID,
			Issuer:    s.issuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(s.now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Validate verifies signature, expiry, issuer and purpose. It never panics.
func (s *Service) Validate(token string) (*Subject, error) {
	c := &claims{}
	parsed, err := jwt.ParseWithClaims(token, c,
		func(*jwt.Token) (interface{}, error) { return s.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	// Evaluate every check before deciding so rejection time does not
	// depend on which claim was wrong.
	ok := subtle.ConstantTimeCompare([]byte(c.Purpose), []byte(Purpose))
	ok &= subtle.ConstantTimeCompare([]byte(c.Issuer), []byte(s.issuer))
	ok &= nonEmpty(c.Subject) & nonEmpty(c.Email) & nonEmpty(c.Nonce)
	if ok != 1 {
		return nil, ErrInvalidToken
	}

	sub := &Subject{
		WorkflowID:   c.Subject,
		FounderEmail: c.Email,
		TokenID:      c.ID,
		ExpiresAt:    c.ExpiresAt.Time,
	}
	if c.IssuedAt != nil {
		sub.IssuedAt = c.IssuedAt.Time
	}
	return sub, nil
}

func nonEmpty(s string) int {
	if s == "" {
		return 0
	}
	return 1
}
