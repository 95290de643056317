package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"chat-sync/internal/model"

	"github.com/golang-jwt/jwt"
)

const (
	DefaultTTL = 12 * time.Hour
	issuerName = "chat-sync"
)

var (
	ErrEmptyToken   = errors.New("token string is empty")
	ErrInvalidToken = errors.New("token is not valid")
	ErrTokenExpired = errors.New("token expired")
)

// Issuer signs and verifies actor tokens with a shared HMAC secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("token secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// CreateToken issues a token for actor. validUntil is a unix timestamp; zero
// uses the issuer's ttl.
func (i *Issuer) CreateToken(actor model.Actor, validUntil int64) (TokenResponse, error) {
	if strings.TrimSpace(actor.ID) == "" {
		return TokenResponse{}, fmt.Errorf("actor id is required")
	}
	if !actor.Role.Valid() {
		return TokenResponse{}, fmt.Errorf("invalid role specified")
	}

	now := i.now()
	if validUntil == 0 {
		validUntil = now.Add(i.ttl).Unix()
	}

	claims := Claims{
		StandardClaims: jwt.StandardClaims{
			Subject:   actor.ID,
			Issuer:    issuerName,
			IssuedAt:  now.Unix(),
			ExpiresAt: validUntil,
		},
		Role: actor.Role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(i.secret)
	if err != nil {
		return TokenResponse{}, err
	}

	return TokenResponse{AccessToken: tokenString, ExpiresAt: validUntil}, nil
}

func (i *Issuer) ParseToken(tokenString string) (model.Actor, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return model.Actor{}, ErrEmptyToken
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return i.secret, nil
	})
	if err != nil {
		var validationErr *jwt.ValidationError
		if errors.As(err, &validationErr) && validationErr.Errors&jwt.ValidationErrorExpired != 0 {
			return model.Actor{}, ErrTokenExpired
		}
		return model.Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return model.Actor{}, ErrInvalidToken
	}

	actor := claims.Actor()
	if actor.ID == "" || !actor.Role.Valid() {
		return model.Actor{}, fmt.Errorf("%w: missing subject or role", ErrInvalidToken)
	}
	return actor, nil
}

// BearerToken strips the Bearer scheme from an Authorization header value.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) > len("Bearer ") && strings.EqualFold(header[:len("Bearer ")], "Bearer ") {
		return strings.TrimSpace(header[len("Bearer "):])
	}
	return ""
}

// ActorFromToken reads the actor out of a token without checking its
// signature. Clients use it to learn who they are; servers must use ParseToken.
func ActorFromToken(tokenString string) (model.Actor, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return model.Actor{}, ErrEmptyToken
	}
	var claims Claims
	if _, _, err := new(jwt.Parser).ParseUnverified(tokenString, &claims); err != nil {
		return model.Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	actor := claims.Actor()
	if actor.ID == "" || !actor.Role.Valid() {
		return model.Actor{}, fmt.Errorf("%w: missing subject or role", ErrInvalidToken)
	}
	return actor, nil
}
