package access

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Sridatta-Bharadwaj/gayatri-homeo-clinic-v2/internal/platform/auth"
)

// RequireUserManagement gates a route behind AuthorizeUserManagement. The
// target user is read from the :id path parameter when the route has one.
func RequireUserManagement(e *Engine, op UserOp) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p := auth.PrincipalFromContext(c.Request().Context())
			var target uuid.UUID
			if raw := c.Param("id"); raw != "" {
				if id, err := uuid.Parse(raw); err == nil {
					target = id
				}
			}
			if err := e.AuthorizeUserManagement(p, target, op); err != nil {
				return auth.HTTPError(err)
			}
			return next(c)
		}
	}
}
