package middleware

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// Context keys set by JWTAuth.
const (
	CtxUserID        = "user_id"
	CtxRole          = "role"
	CtxEmailVerified = "email_verified"
)

// JWTAuth returns an Echo middleware that validates a Bearer access token
// and injects the token's subject, role and email_verified claims into the
// request context.  Tokens are issued by the identity service; only
// HS256 signatures made with secret are accepted.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, ok := bearerToken(c)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}

			tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
				// reject anything that is not HMAC
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, echo.ErrUnauthorized
				}
				return []byte(secret), nil
			})
			if err != nil || !tok.Valid {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}
			claims, ok := tok.Claims.(jwt.MapClaims)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid claims"})
			}
			if claims["sub"] == nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "token has no subject"})
			}

			c.Set(CtxUserID, claims["sub"])
			c.Set(CtxRole, claims["role"])
			// Older tokens carry no email_verified claim at all; those are
			// treated as verified by RequireVerifiedEmail.
			if v, ok := claims["email_verified"].(bool); ok {
				c.Set(CtxEmailVerified, v)
			}
			return next(c)
		}
	}
}

// bearerToken reads the token from the Authorization header.  Browsers
// cannot set headers on a websocket upgrade, so the access_token query
// parameter is accepted on GET requests as well.
func bearerToken(c echo.Context) (string, bool) {
	auth := c.Request().Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		raw := strings.TrimPrefix(auth, "Bearer ")
		return raw, raw != ""
	}
	if c.Request().Method == http.MethodGet {
		if raw := c.QueryParam("access_token"); raw != "" {
			return raw, true
		}
	}
	return "", false
}
