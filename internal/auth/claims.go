package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims are the only supported JWT claims shape for this service.
// Identity issuance lives elsewhere; this service only needs a resolved user id
// on every authenticated connection, plus a display name for call notifications.
type Claims struct {
	jwt.RegisteredClaims

	UserID    string    `json:"user_id"`
	Username  string    `json:"username,omitempty"`
	TokenType TokenType `json:"token_type"`
}
