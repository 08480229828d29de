package httpapi

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	tokenIssuer   = "pldm-agent"
	tokenLifetime = 24 * time.Hour
)

// JWTClaims represents the JWT token claims
type JWTClaims struct {
	ClientID string `json:"client_id"`
	IsAdmin  bool   `json:"is_admin,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuth issues and checks HS256 bearer tokens
type JWTAuth struct {
	secretKey []byte
	lifetime  time.Duration
	parser    *jwt.Parser
}

// NewJWTAuth creates a new JWT authentication handler
func NewJWTAuth(secretKey string) *JWTAuth {
	return &JWTAuth{
		secretKey: []byte(secretKey),
		lifetime:  tokenLifetime,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(tokenIssuer),
			jwt.WithExpirationRequired(),
		),
	}
}

// GenerateToken signs a token for clientID and returns it with its expiry
func (j *JWTAuth) GenerateToken(clientID string, isAdmin bool) (string, time.Time, error) {
	if clientID == "" {
		return "", time.Time{}, errors.New("clientID cannot be empty")
	}

	issued := time.Now()
	expiry := issued.Add(j.lifetime)

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &JWTClaims{
		ClientID: clientID,
		IsAdmin:  isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    tokenIssuer,
			Subject:   clientID,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(expiry),
		},
	}).SignedString(j.secretKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token for %s: %w", clientID, err)
	}
	return signed, expiry, nil
}

// ValidateToken checks signature, issuer and expiry and returns the claims.
// A leading "Bearer " is ignored.
func (j *JWTAuth) ValidateToken(raw string) (*JWTClaims, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(raw, "Bearer "))
	if raw == "" {
		return nil, errors.New("token cannot be empty")
	}

	claims := &JWTClaims{}
	if _, err := j.parser.ParseWithClaims(raw, claims, j.key); err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if claims.ClientID == "" {
		return nil, errors.New("token has no client id")
	}
	return claims, nil
}

func (j *JWTAuth) key(*jwt.Token) (interface{}, error) {
	return j.secretKey, nil
}

// HashPassword returns the bcrypt hash to configure as the admin password
// hash.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password cannot be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
