package v1

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/guildsage/guildsage/server/auth"
)

type contextKey string

// principalContextKey carries the authenticated principal's name.
const principalContextKey contextKey = "principal"

// bearerAuthMiddleware enforces the HS256 bearer token on API routes. Only
// installed when a secret is configured.
func (s *APIV1Service) bearerAuthMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := auth.FromAuthorizationHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		claims, err := auth.Authenticate(token, []byte(s.Secret))
		if err != nil {
			slog.Debug("rejected api request",
				"path", c.Request().URL.Path,
				"error", err,
			)
			return errorResponse(c, http.StatusUnauthorized, "authentication required")
		}
		c.Set(string(principalContextKey), claims.Name)
		return next(c)
	}
}
