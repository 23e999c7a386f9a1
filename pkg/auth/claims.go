package auth

import (
	"github.com/angelmondragon/cardsync-backend/pkg/enums"
	"github.com/golang-jwt/jwt/v5"
)

// OperatorTokenPayload captures the data available when minting an operator JWT.
type OperatorTokenPayload struct {
	OperatorID string
	Role       enums.OperatorRole
	JTI        string
}

// OperatorClaims represents the typed JWT presented to the admin API.
type OperatorClaims struct {
	Role enums.OperatorRole `json:"role"`
	jwt.RegisteredClaims
}
