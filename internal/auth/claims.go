package auth

import "github.com/golang-jwt/jwt/v5"

// VerifiedClaims is the output of successful token verification: the stable
// provider subject plus optional profile attributes. It carries facts only;
// no authorization decision is encoded here.
type VerifiedClaims struct {
	Subject     string
	Email       string
	DisplayName string
}

// tokenClaims is the wire shape of provider-issued JWTs.
type tokenClaims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}
