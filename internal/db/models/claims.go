package models

import "github.com/golang-jwt/jwt/v5"

// Claims represents the JWT claims issued by the external identity
// provider. The engine only relies on the stable user id.
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}
