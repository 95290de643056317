package jwt

import (
	"chat-sync/internal/model"

	"github.com/golang-jwt/jwt"
)

type TokenResponse struct {
	AccessToken string `json:"accessToken"`
	ExpiresAt   int64  `json:"expiresAt"`
}

// Claims identify a chat actor. The subject is the actor id.
type Claims struct {
	jwt.StandardClaims
	Role model.Role `json:"role"`
}

func (c Claims) Actor() model.Actor {
	return model.Actor{ID: c.Subject, Role: c.Role}
}
