//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package guard enforces authentication and authorization in front of the
// tracking server.
//
// The guard is deployed as a reverse proxy: every request is authenticated
// ([RequireAuth]), checked against the route table ([Authorize]), and only
// then forwarded upstream. Requests that fail authentication receive 401;
// authenticated requests lacking the required capability receive 403. Both
// checks fail closed.
package guard

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/manetu/trackauth/internal/logging"
	"github.com/manetu/trackauth/pkg/common"
	"github.com/manetu/trackauth/pkg/core"
	"github.com/manetu/trackauth/pkg/core/auth"
	"github.com/manetu/trackauth/pkg/core/config"
	"github.com/pkg/errors"
)

var logger = logging.GetLogger("trackauth.guard")

// identityKey is the echo context key under which the authenticated
// identity is stored.
const identityKey = "trackauth/identity"

// Identity returns the authenticated identity placed on the context by
// [RequireAuth], or nil if the request has not been authenticated.
func Identity(c echo.Context) *auth.Identity {
	identity, _ := c.Get(identityKey).(*auth.Identity)
	return identity
}

// ExtractCredentials collects whatever credential material the request
// carries: the session cookie, HTTP Basic, or a bearer token.
func ExtractCredentials(c echo.Context) auth.Credentials {
	var creds auth.Credentials

	if cookie, err := c.Cookie(config.VConfig.GetString(config.SessionCookieName)); err == nil {
		creds.SessionID = cookie.Value
	}

	authz := c.Request().Header.Get(echo.HeaderAuthorization)
	switch {
	case strings.HasPrefix(authz, "Basic "):
		creds.BasicUsername, creds.BasicPassword, _ = c.Request().BasicAuth()
	case strings.HasPrefix(authz, "Bearer "):
		creds.BearerToken = strings.TrimPrefix(authz, "Bearer ")
	}
	return creds
}

// RequireAuth authenticates every request and stores the resulting identity
// on the context. Unauthenticated requests receive 401, or a redirect to
// the login flow for browser requests when auth.automaticloginredirect is
// enabled.
func RequireAuth(az core.Authorizer) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			identity, err := az.Authenticate(c.Request().Context(), ExtractCredentials(c))
			if err != nil {
				logger.Debugf("authentication failed for %s %s: %v", c.Request().Method, c.Request().URL.Path, err)
				if wantsLoginRedirect(c) {
					return c.Redirect(http.StatusFound, "/login")
				}
				return unauthorized(c, err)
			}
			c.Set(identityKey, identity)
			return next(c)
		}
	}
}

// Authorize enforces the route table: requests matching a protected route
// must hold the required capability on the referenced resource. Routes
// outside the table pass through with authentication only.
func Authorize(az core.Authorizer) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			identity := Identity(c)
			if identity == nil {
				return unauthorized(c, common.NewError(common.CodeNoCredentials, "request is not authenticated"))
			}

			rule, ok := lookupRoute(c.Request().Method, c.Request().URL.Path)
			if !ok {
				return next(c)
			}

			resourceID, err := rule.Resource(c, az)
			if err != nil {
				var httpErr *echo.HTTPError
				if errors.As(err, &httpErr) {
					return httpErr
				}
				return reject(c, err)
			}

			if err := az.CheckAccess(c.Request().Context(), identity, rule.Kind, resourceID, rule.Capability); err != nil {
				logger.Infof("denied %s %s for %s: %v", c.Request().Method, c.Request().URL.Path, identity.Username, err)
				return reject(c, err)
			}
			return next(c)
		}
	}
}

// RequireAdmin restricts a route to admin identities.
func RequireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		identity := Identity(c)
		if identity == nil {
			return unauthorized(c, common.NewError(common.CodeNoCredentials, "request is not authenticated"))
		}
		if !identity.IsAdmin {
			return echo.NewHTTPError(http.StatusForbidden, "administrator access required")
		}
		return next(c)
	}
}

func wantsLoginRedirect(c echo.Context) bool {
	return config.VConfig.GetBool(config.AutomaticLoginRedirect) &&
		strings.Contains(c.Request().Header.Get(echo.HeaderAccept), echo.MIMETextHTML)
}

func unauthorized(c echo.Context, err error) error {
	c.Response().Header().Set(echo.HeaderWWWAuthenticate, `Basic realm="trackauth"`)
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": err.Error()})
}

// reject maps resolution errors to HTTP statuses: denials to 403, missing
// resources to 404, anything else to 500.
func reject(c echo.Context, err error) error {
	switch {
	case common.IsCode(err, common.CodeForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": err.Error()})
	case common.IsNotFound(err):
		return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})
	case common.IsCode(err, common.CodeInvalidPermission):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	logger.Errorf("authorization check failed: %v", err)
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}

// bodyField extracts a top-level field from a JSON request body, restoring
// the body so it can still be proxied upstream. Names beyond the first are
// deprecated aliases accepted for older clients. Numeric ids are rendered
// back to their literal form.
func bodyField(c echo.Context, names ...string) (string, error) {
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return "", err
	}
	c.Request().Body = io.NopCloser(bytes.NewReader(raw))

	var body map[string]json.RawMessage
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	for _, name := range names {
		field, ok := body[name]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(field, &s); err == nil {
			return s, nil
		}
		return strings.TrimSpace(string(field)), nil
	}
	return "", echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("missing required field '%s'", names[0]))
}

// queryField extracts a query parameter, failing when absent. Names beyond
// the first are deprecated aliases accepted for older clients.
func queryField(c echo.Context, names ...string) (string, error) {
	for _, name := range names {
		if v := c.QueryParam(name); v != "" {
			return v, nil
		}
	}
	return "", echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("missing required parameter '%s'", names[0]))
}
