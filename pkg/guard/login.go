//
//  Copyright © Manetu Inc. All rights reserved.
//

package guard

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/manetu/trackauth/pkg/core"
	"github.com/manetu/trackauth/pkg/core/auth"
	"github.com/manetu/trackauth/pkg/core/config"
	"github.com/pkg/errors"
)

// stateCookie carries the anti-forgery state across the login round trip.
const stateCookie = "trackauth-state"

// LoginHandler implements the browser login flow against the OIDC provider:
// /login redirects to the provider's authorization endpoint, /callback
// exchanges the returned code for an id token, validates it through the
// authorizer's bearer path, and opens a server-side session.
type LoginHandler struct {
	az     core.Authorizer
	client *http.Client

	mu        sync.Mutex
	endpoints *providerEndpoints
}

type providerEndpoints struct {
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
}

// NewLoginHandler creates a login handler. client may be nil, in which case
// http.DefaultClient is used.
func NewLoginHandler(az core.Authorizer, client *http.Client) *LoginHandler {
	if client == nil {
		client = http.DefaultClient
	}
	return &LoginHandler{az: az, client: client}
}

// Register attaches the login flow routes.
func (h *LoginHandler) Register(e *echo.Echo) {
	e.GET("/login", h.Login)
	e.GET("/callback", h.Callback)
	e.GET("/logout", h.Logout)
	e.GET("/auth/info", h.Info)
}

// Info describes the login flow for UI clients.
func (h *LoginHandler) Info(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"provider":  config.VConfig.GetString(config.OIDCProviderDisplayName),
		"login_url": "/login",
	})
}

// Login starts the authorization code flow.
func (h *LoginHandler) Login(c echo.Context) error {
	endpoints, err := h.discover(c.Request().Context())
	if err != nil {
		logger.Errorf("provider discovery failed: %v", err)
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "identity provider is unavailable"})
	}

	state := uuid.NewString()
	c.SetCookie(&http.Cookie{
		Name:     stateCookie,
		Value:    signState(state),
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", config.VConfig.GetString(config.OIDCClientID))
	q.Set("redirect_uri", config.VConfig.GetString(config.OIDCRedirectURI))
	q.Set("scope", config.VConfig.GetString(config.OIDCScope))
	q.Set("state", state)
	return c.Redirect(http.StatusFound, endpoints.AuthorizationEndpoint+"?"+q.Encode())
}

// Callback completes the authorization code flow.
func (h *LoginHandler) Callback(c echo.Context) error {
	state := c.QueryParam("state")
	cookie, err := c.Cookie(stateCookie)
	if err != nil || state == "" || cookie.Value != signState(state) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "login state mismatch"})
	}

	code := c.QueryParam("code")
	if code == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "missing authorization code"})
	}

	idToken, err := h.exchange(c.Request().Context(), code)
	if err != nil {
		logger.Errorf("code exchange failed: %v", err)
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "code exchange with identity provider failed"})
	}

	// Run the id token through the regular bearer path; this validates the
	// signature and claims, filters groups, and provisions the user.
	identity, err := h.az.Authenticate(c.Request().Context(), auth.Credentials{BearerToken: idToken})
	if err != nil {
		logger.Infof("login rejected: %v", err)
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": err.Error()})
	}

	sess, err := h.az.Login(c.Request().Context(), identity.Username, identity.Username, identity.Groups)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": err.Error()})
	}

	c.SetCookie(&http.Cookie{
		Name:     config.VConfig.GetString(config.SessionCookieName),
		Value:    sess.ID,
		Path:     "/",
		Expires:  sess.Expiry,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return c.Redirect(http.StatusFound, "/")
}

// Logout destroys the caller's session and clears the cookie.
func (h *LoginHandler) Logout(c echo.Context) error {
	name := config.VConfig.GetString(config.SessionCookieName)
	if cookie, err := c.Cookie(name); err == nil {
		h.az.Logout(cookie.Value)
	}
	c.SetCookie(&http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	return c.NoContent(http.StatusNoContent)
}

func (h *LoginHandler) discover(ctx context.Context) (*providerEndpoints, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.endpoints != nil {
		return h.endpoints, nil
	}

	discoveryURL := config.VConfig.GetString(config.OIDCDiscoveryURL)
	if discoveryURL == "" {
		return nil, errors.New("oidc.discoveryurl is not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetching discovery document")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("discovery document fetch returned %d", resp.StatusCode)
	}

	endpoints := &providerEndpoints{}
	if err := json.NewDecoder(resp.Body).Decode(endpoints); err != nil {
		return nil, errors.Wrap(err, "parsing discovery document")
	}
	if endpoints.AuthorizationEndpoint == "" || endpoints.TokenEndpoint == "" {
		return nil, errors.New("discovery document lacks authorization or token endpoint")
	}
	h.endpoints = endpoints
	return endpoints, nil
}

func (h *LoginHandler) exchange(ctx context.Context, code string) (string, error) {
	endpoints, err := h.discover(ctx)
	if err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", config.VConfig.GetString(config.OIDCRedirectURI))
	form.Set("client_id", config.VConfig.GetString(config.OIDCClientID))
	form.Set("client_secret", config.VConfig.GetString(config.OIDCClientSecret))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoints.TokenEndpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)

	resp, err := h.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "posting code exchange")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("code exchange returned %d", resp.StatusCode)
	}

	var payload struct {
		IDToken string `json:"id_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", errors.Wrap(err, "parsing token response")
	}
	if payload.IDToken == "" {
		return "", errors.New("token response lacks an id_token")
	}
	return payload.IDToken, nil
}

// signState binds the state value to this deployment's session secret so a
// forged callback cannot supply its own.
func signState(state string) string {
	secret := config.VConfig.GetString(config.SessionSecret)
	if secret == "" {
		return state
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(state))
	return state + "." + hex.EncodeToString(mac.Sum(nil))
}
