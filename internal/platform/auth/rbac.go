package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// ErrUnauthorized is returned when the caller's role claims do not permit the
// attempted operation. Surfaced immediately, no partial effects.
var ErrUnauthorized = errors.New("caller is not authorized for this operation")

// RequireRole returns middleware that checks if the user has at least one of
// the required roles. Admins pass every check.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if HasRole(c.Request().Context(), roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// HasRole reports whether the identity in ctx carries any of the given roles.
func HasRole(ctx context.Context, roles ...string) bool {
	userRoles := RolesFromContext(ctx)
	for _, required := range roles {
		for _, has := range userRoles {
			if has == required || has == "admin" {
				return true
			}
		}
	}
	return false
}

// HasExplicitRole is HasRole without the admin wildcard. Clinical sign-off
// requires an actual clinical role claim; an administrator does not get to
// finalize a diagnosis by virtue of being an administrator.
func HasExplicitRole(ctx context.Context, roles ...string) bool {
	userRoles := RolesFromContext(ctx)
	for _, required := range roles {
		for _, has := range userRoles {
			if has == required {
				return true
			}
		}
	}
	return false
}
