package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// SessionCookieName is the cookie carrying the opaque session token.
const SessionCookieName = "clinic_session"

// TokenFromRequest extracts the session token from the Authorization bearer
// header, falling back to the session cookie.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	if c, err := r.Cookie(SessionCookieName); err == nil {
		return c.Value
	}
	return ""
}

// SessionMiddleware resolves the principal for every request that carries a
// token and stores it on the request context. Requests without a valid
// session continue anonymously; RequireSession rejects them where needed.
// A session store outage fails the request with 503.
func SessionMiddleware(m *SessionManager) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := TokenFromRequest(c.Request())
			if token == "" {
				return next(c)
			}

			p, err := m.Resolve(c.Request().Context(), token)
			switch {
			case err == nil && p != nil:
				ctx := WithPrincipal(c.Request().Context(), p)
				c.SetRequest(c.Request().WithContext(ctx))
				c.Set("user_id", p.UserID.String())
			case err == nil, errors.Is(err, ErrUnauthenticated):
			default:
				return HTTPError(err)
			}
			return next(c)
		}
	}
}

// RequireSession rejects requests without a resolved principal.
func RequireSession() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if PrincipalFromContext(c.Request().Context()) == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, ErrUnauthenticated.Error())
			}
			return next(c)
		}
	}
}

// CookieConfig controls the attributes of the session cookie.
type CookieConfig struct {
	Secure bool
	Path   string
}

func (cc CookieConfig) path() string {
	if cc.Path == "" {
		return "/"
	}
	return cc.Path
}

// SetSessionCookie writes the session cookie for token.
func SetSessionCookie(c echo.Context, cc CookieConfig, token string, expires time.Time) {
	c.SetCookie(&http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     cc.path(),
		Expires:  expires,
		HttpOnly: true,
		Secure:   cc.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie expires the session cookie on the client.
func ClearSessionCookie(c echo.Context, cc CookieConfig) {
	c.SetCookie(&http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     cc.path(),
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   cc.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
