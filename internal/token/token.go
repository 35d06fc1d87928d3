// Package token signs and parses the actor tokens the front end presents.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/iurnickita/sugarrush/internal/model"
)

type Claims struct {
	jwt.RegisteredClaims
	Name string `json:"name,omitempty"`
}

var ErrInvalidToken = errors.New("invalid token")

// BuildJWTString signs a token naming actor. Zero ttl means no expiry.
func BuildJWTString(secret string, actor model.Actor, ttl time.Duration, now time.Time) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  actor.ID,
			IssuedAt: jwt.NewNumericDate(now),
		},
		Name: actor.Name,
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return tokenString, nil
}

func GetActor(secret string, tokenString string) (model.Actor, error) {
	claims := &Claims{}
	t, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return model.Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !t.Valid || claims.Subject == "" {
		return model.Actor{}, ErrInvalidToken
	}
	return model.Actor{ID: claims.Subject, Name: claims.Name}, nil
}
