package auth

import "github.com/golang-jwt/jwt/v5"

// Claims are the only supported JWT claims shape for this service.
// The subject (sub) carries the account email; Role is the role at issuance time
// and may be stale by the time the token is presented.
type Claims struct {
	jwt.RegisteredClaims

	Role string `json:"role"`
}
