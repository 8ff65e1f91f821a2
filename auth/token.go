// Package auth turns bearer tokens into identities.
package auth

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
)

const issuer = "chat-relay"

var validate = validator.New()

// CustomClaims defines the structure of the data stored inside the JWT.
type CustomClaims struct {
	UserID string `json:"user_id" validate:"required,max=128"`
	Role   string `json:"role" validate:"required,oneof=user admin super_admin"`
	jwt.RegisteredClaims
}

// JWTProvider verifies HS256 tokens signed with a shared secret.
type JWTProvider struct {
	secret []byte
	now    func() time.Time
}

func NewJWTProvider(secret string) *JWTProvider {
	return &JWTProvider{secret: []byte(secret), now: time.Now}
}

// GenerateToken creates a signed JWT for the identity.
func (p *JWTProvider) GenerateToken(identity domain.Identity, ttl time.Duration) (string, error) {
	now := p.now()
	claims := &CustomClaims{
		UserID: identity.UserID,
		Role:   string(identity.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
}

// Verify checks signature, expiry and claims and returns the identity they carry.
func (p *JWTProvider) Verify(tokenString string) (domain.Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		return p.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %w", errors.ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return domain.Identity{}, errors.ErrInvalidToken
	}
	if err := validate.Struct(claims); err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %w", errors.ErrInvalidToken, err)
	}
	return domain.Identity{UserID: claims.UserID, Role: domain.Role(claims.Role)}, nil
}
