package service

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/keymint/keymint/internal/issuance"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrKeyRevoked         = errors.New("api key revoked")
	ErrNoSigningSecret    = errors.New("jwt signing secret is not configured")
)

const tokenIssuer = "keymint"

// APIKeyPrincipal identifies the caller behind a verified API key.
type APIKeyPrincipal struct {
	KeyID   int64
	Name    string
	OwnerID *string
}

// OperatorPrincipal identifies an operator behind a verified JWT.
type OperatorPrincipal struct {
	Subject string
}

// AuthService authenticates operators of the admin API and clients
// presenting issued API keys.
type AuthService struct {
	keys      *issuance.Service
	jwtSecret []byte
}

func NewAuthService(keys *issuance.Service, jwtSecret string) *AuthService {
	return &AuthService{
		keys:      keys,
		jwtSecret: []byte(jwtSecret),
	}
}

// ValidateAPIKey checks a presented secret against the issued keys.
func (s *AuthService) ValidateAPIKey(ctx context.Context, rawKey string) (*APIKeyPrincipal, error) {
	key, err := s.keys.Verify(ctx, rawKey)
	if err != nil {
		switch {
		case errors.Is(err, issuance.ErrKeyInactive):
			return nil, ErrKeyRevoked
		case errors.Is(err, issuance.ErrInvalidSecret):
			return nil, ErrInvalidCredentials
		default:
			return nil, err
		}
	}

	return &APIKeyPrincipal{
		KeyID:   key.ID,
		Name:    key.Name,
		OwnerID: key.OwnerID,
	}, nil
}

// ValidateJWT verifies an operator bearer token.
func (s *AuthService) ValidateJWT(ctx context.Context, tokenStr string) (*OperatorPrincipal, error) {
	if len(s.jwtSecret) == 0 {
		return nil, ErrNoSigningSecret
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	if !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidCredentials
	}

	return &OperatorPrincipal{Subject: claims.Subject}, nil
}

// IssueJWT creates a signed operator token for subject.
func (s *AuthService) IssueJWT(ctx context.Context, subject string, ttl time.Duration) (string, error) {
	if len(s.jwtSecret) == 0 {
		return "", ErrNoSigningSecret
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		Issuer:    tokenIssuer,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}
