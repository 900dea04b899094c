package models

import "github.com/golang-jwt/jwt/v5"

// AuthClaims is the JWT payload identifying the calling user. Identity is
// issued by an external account service; this API only verifies it.
type AuthClaims struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	jwt.RegisteredClaims
}
