// Package service authenticates gateway subjects from signed bearer tokens.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrNoSecret     = errors.New("jwt secret is not configured")
)

// RoleOperator grants the operator surface: thresholds, purges and other
// subjects' metrics.
const RoleOperator = "operator"

// Subject is an authenticated caller.
type Subject struct {
	ID   string
	Role string
}

// IsOperator reports whether the subject holds the operator role.
func (s *Subject) IsOperator() bool {
	return s != nil && s.Role == RoleOperator
}

type AuthService struct {
	jwtSecret []byte
	issuer    string
	now       func() time.Time
}

func NewAuthService(jwtSecret, issuer string) *AuthService {
	return &AuthService{
		jwtSecret: []byte(jwtSecret),
		issuer:    issuer,
		now:       time.Now,
	}
}

// ValidateJWT verifies a bearer token and returns the subject it names.
func (s *AuthService) ValidateJWT(ctx context.Context, tokenStr string) (*Subject, error) {
	if len(s.jwtSecret) == 0 {
		return nil, ErrNoSecret
	}
	claims := &jwtClaims{}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	if !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	return &Subject{ID: claims.Subject, Role: claims.Role}, nil
}

// IssueJWT creates a signed token for subjectID. role may be empty.
func (s *AuthService) IssueJWT(ctx context.Context, subjectID, role string, ttl time.Duration) (string, error) {
	if len(s.jwtSecret) == 0 {
		return "", ErrNoSecret
	}
	if subjectID == "" {
		return "", errors.New("subject id is required")
	}
	now := s.now()
	claims := jwtClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    s.issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

type jwtClaims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}
