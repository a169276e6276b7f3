package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Identity is who is calling and on behalf of which studio.
type Identity struct {
	UserID   string `json:"user_id"`
	StudioID string `json:"studio_id"`
	Role     string `json:"role"`
}

func (i Identity) complete() bool {
	return i.UserID != "" && i.StudioID != "" && i.Role != ""
}

// Claims carry the identity in both token types. A refresh token keeps the
// role it was issued with so a refresh can never change it.
type Claims struct {
	jwt.RegisteredClaims

	UserID    string    `json:"user_id"`
	StudioID  string    `json:"studio_id"`
	Role      string    `json:"role"`
	TokenType TokenType `json:"token_type"`
}

func (c Claims) Identity() Identity {
	return Identity{UserID: c.UserID, StudioID: c.StudioID, Role: c.Role}
}
