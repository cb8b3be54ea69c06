package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"
)

const (
	userIdClaim = "user-id"
	expClaim    = "exp"

	DefaultExp = time.Hour * 24
)

var ErrInvalidToken = errors.New("invalid token")

// JWTIssuer verifies the HS256 tokens handed out by the account service.
type JWTIssuer struct {
	signingKey []byte
}

func NewJWTIssuer(signingKey []byte) *JWTIssuer {
	return &JWTIssuer{signingKey: signingKey}
}

// Issue signs a token for userId. The account service owns issuance; this is
// here for tooling and tests.
func (i *JWTIssuer) Issue(userId string, exp time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		userIdClaim: userId,
		expClaim:    time.Now().Add(exp).Unix(),
	})

	return token.SignedString(i.signingKey)
}

// Verify returns the user id carried by a valid token.
func (i *JWTIssuer) Verify(_ context.Context, tokenString string) (string, error) {
	if tokenString == "" {
		return "", ErrInvalidToken
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Header["alg"])
		}
		return i.signingKey, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: parse token: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("%w: invalid token claims", ErrInvalidToken)
	}

	userId, ok := claims[userIdClaim].(string)
	if !ok || userId == "" {
		return "", fmt.Errorf("%w: invalid user id claim", ErrInvalidToken)
	}

	return userId, nil
}
