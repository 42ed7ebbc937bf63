package httpserver

import "github.com/golang-jwt/jwt/v5"

// issuerFromJWT returns the iss claim of a JWT without verifying its
// signature. Returns "" for anything unparseable.
func issuerFromJWT(token string) string {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return ""
	}
	issuer, err := parsed.Claims.GetIssuer()
	if err != nil {
		return ""
	}
	return issuer
}
