package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims are the only supported JWT claims shape for this service.
// Multi-tenant invariant: MerchantID must be present; an operator token
// is only ever valid for the one business it was issued for.
type Claims struct {
	jwt.RegisteredClaims

	UserID     string    `json:"user_id"`
	MerchantID string    `json:"merchant_id"`
	TokenType  TokenType `json:"token_type"`
}
