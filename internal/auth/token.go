package auth

import (
	"errors"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/spec-kit/callbridge/internal/domain"
)

// TokenManager handles issuing and validating connection JWT tokens.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenManager builds a new manager.
func NewTokenManager(secret string, ttlMinutes int) *TokenManager {
	if ttlMinutes <= 0 {
		ttlMinutes = 480
	}
	return &TokenManager{secret: []byte(secret), ttl: time.Duration(ttlMinutes) * time.Minute}
}

// ConnectionClaims describes the JWT payload for realtime connections.
type ConnectionClaims struct {
	Class     domain.ConnectionClass `json:"class"`
	Extension string                 `json:"extension,omitempty"`
	jwt.RegisteredClaims
}

// GenerateToken builds and signs a time-boxed token for a connection.
func (tm *TokenManager) GenerateToken(class domain.ConnectionClass, extension string) (string, time.Time, error) {
	if class == domain.ConnectionClassAgent && extension == "" {
		return "", time.Time{}, errors.New("agent token requires an extension")
	}

	expiresAt := time.Now().Add(tm.ttl)
	claims := &ConnectionClaims{
		Class:     class,
		Extension: extension,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   extension,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(tm.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

// ParseToken validates and returns claims.
func (tm *TokenManager) ParseToken(tokenStr string) (*ConnectionClaims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &ConnectionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return tm.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*ConnectionClaims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.Class == domain.ConnectionClassAgent && claims.Extension == "" {
		return nil, errors.New("agent token missing extension")
	}
	return claims, nil
}
