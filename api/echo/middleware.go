package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

func (s *Server) adminMiddleware(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := s.getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			if claims.IsAdmin && s.contextHasAnyRole(ctx, roles) {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

// anyRoleMiddleware allows requests whose claims carry any of the given role
// prefixes; admins always pass.
func (s *Server) anyRoleMiddleware(check func(Claims) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := s.getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			if claims.IsAdmin || check(claims) {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}
