package server

import (
	"crypto/subtle"
	"strings"

	"github.com/labstack/echo/v4"

	"toolgate/internal/core"
)

// bearerToken extracts the credential from an Authorization header. The
// scheme is matched case-insensitively.
func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	return strings.TrimSpace(token), true
}

// AuthMiddleware rejects requests that do not present masterKey as a bearer
// token. An empty masterKey disables the check. Requests for skipPaths
// always pass.
func AuthMiddleware(masterKey string, skipPaths []string) echo.MiddlewareFunc {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}
	want := []byte(masterKey)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if masterKey == "" {
				return next(c)
			}
			if _, ok := skip[c.Request().URL.Path]; ok {
				return next(c)
			}

			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if header == "" {
				return handleError(c, core.NewAuthenticationError("missing authorization header"))
			}
			token, ok := bearerToken(header)
			if !ok {
				return handleError(c, core.NewAuthenticationError("invalid authorization header format, expected 'Bearer <token>'"))
			}
			if subtle.ConstantTimeCompare([]byte(token), want) != 1 {
				return handleError(c, core.NewAuthenticationError("invalid master key"))
			}
			return next(c)
		}
	}
}
