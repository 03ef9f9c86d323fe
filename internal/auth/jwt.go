package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const hasuraClaimsNamespace = "https://hasura.io/jwt/claims"

type accessClaims struct {
	ExpiresAt time.Time
	UserID    string
	Email     string
}

// readAccessClaims lee el JWT sin verificar la firma: el cliente sólo necesita
// conocer el vencimiento y el usuario, la verificación la hace Hasura.
func readAccessClaims(token string) (accessClaims, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return accessClaims{}, false
	}

	var out accessClaims
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	if sub, err := claims.GetSubject(); err == nil {
		out.UserID = sub
	}
	if ns, ok := claims[hasuraClaimsNamespace].(map[string]any); ok {
		if id, ok := ns["x-hasura-user-id"].(string); ok && id != "" {
			out.UserID = id
		}
	}
	if email, ok := claims["email"].(string); ok {
		out.Email = email
	}
	return out, true
}

// expiresAt calcula el vencimiento: expiresIn del proveedor si viene, si no el exp del token.
func expiresAt(now time.Time, expiresIn int64, accessToken string) time.Time {
	if expiresIn > 0 {
		return now.Add(time.Duration(expiresIn) * time.Second)
	}
	if c, ok := readAccessClaims(accessToken); ok {
		return c.ExpiresAt
	}
	return time.Time{}
}
