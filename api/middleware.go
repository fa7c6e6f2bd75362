package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

// SignInPath is where unauthenticated browser requests are redirected.
const SignInPath = "/sign-in"

const userIDKey = "userID"

// Authenticator resolves the user behind an Authorization header.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// RequireAuth rejects requests without a valid token. Browsers asking for
// HTML are sent to SignInPath; API clients get 401.
func RequireAuth(auth Authenticator, logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID, err := auth.UserIDFromAuthHeader(requestAuthHeader(c))
			if err != nil {
				logger.WithError(err).WithField("path", c.Path()).Debug("unauthenticated request")
				if wantsHTML(c.Request()) {
					return c.Redirect(http.StatusFound, SignInPath)
				}
				return c.String(http.StatusUnauthorized, err.Error())
			}
			c.Set(userIDKey, userID)
			return next(c)
		}
	}
}

func wantsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get(echo.HeaderAccept), echo.MIMETextHTML)
}

func userID(c echo.Context) string {
	id, _ := c.Get(userIDKey).(string)
	return id
}
