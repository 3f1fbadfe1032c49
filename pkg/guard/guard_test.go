//
//  Copyright © Manetu Inc. All rights reserved.
//

package guard

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/manetu/trackauth/pkg/core"
	"github.com/manetu/trackauth/pkg/core/config"
	"github.com/manetu/trackauth/pkg/core/options"
	"github.com/manetu/trackauth/pkg/core/store"
	"github.com/manetu/trackauth/pkg/core/store/fake"
	"github.com/manetu/trackauth/pkg/core/tracking"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	echo     *echo.Echo
	az       core.Authorizer
	store    *fake.Store
	tracking *tracking.Fake
}

// newEnv wires the guard chain around a stub upstream that echoes the
// request body, standing in for the proxied tracking server.
func newEnv(t *testing.T) *env {
	t.Helper()
	config.ResetConfig()
	config.VConfig.Set(config.OIDCGroupNames, []string{"data-science"})
	config.VConfig.Set(config.OIDCAdminGroupName, "tracking-admins")
	t.Cleanup(config.ResetConfig)

	trk := tracking.NewFake()
	az, err := core.NewAuthorizer(options.WithTracking(trk))
	require.NoError(t, err)

	e := echo.New()
	NewAdminAPI(az).Register(e.Group("/api/2.0/trackauth", RequireAuth(az)))
	e.Any("/*", func(c echo.Context) error {
		body, _ := io.ReadAll(c.Request().Body)
		return c.String(http.StatusOK, "upstream:"+string(body))
	}, RequireAuth(az), Authorize(az))

	return &env{echo: e, az: az, store: az.GetStore().(*fake.Store), tracking: trk}
}

func (v *env) request(method, target, body string, decorate ...func(*http.Request)) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for _, d := range decorate {
		d(req)
	}
	rec := httptest.NewRecorder()
	v.echo.ServeHTTP(rec, req)
	return rec
}

func asUser(username, password string) func(*http.Request) {
	return func(req *http.Request) {
		req.SetBasicAuth(username, password)
	}
}

func TestUnauthenticatedRequestsAreRejected(t *testing.T) {
	v := newEnv(t)

	rec := v.request(http.MethodGet, "/api/2.0/mlflow/experiments/search", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderWWWAuthenticate), "Basic")
}

func TestAuthenticatedPassThroughForUnlistedRoutes(t *testing.T) {
	v := newEnv(t)
	v.store.AddUser("alice@example.com", "pw", false)

	rec := v.request(http.MethodGet, "/api/2.0/mlflow/experiments/search", "", asUser("alice@example.com", "pw"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "upstream:", rec.Body.String())
}

func TestReadAllowedByFallback(t *testing.T) {
	v := newEnv(t)
	v.store.AddUser("alice@example.com", "pw", false)

	rec := v.request(http.MethodGet, "/api/2.0/mlflow/experiments/get?experiment_id=7", "", asUser("alice@example.com", "pw"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWriteDeniedWithoutGrant(t *testing.T) {
	v := newEnv(t)
	v.store.AddUser("alice@example.com", "pw", false)

	rec := v.request(http.MethodPost, "/api/2.0/mlflow/experiments/update",
		`{"experiment_id": "7", "new_name": "x"}`, asUser("alice@example.com", "pw"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWriteAllowedWithGrantAndBodyIsPreserved(t *testing.T) {
	v := newEnv(t)
	v.store.AddUser("alice@example.com", "pw", false)
	v.store.SetGrant(store.KindExperiment, "7", "alice@example.com", "EDIT")

	body := `{"experiment_id": "7", "new_name": "x"}`
	rec := v.request(http.MethodPost, "/api/2.0/mlflow/experiments/update", body, asUser("alice@example.com", "pw"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "upstream:"+body, rec.Body.String(), "the guarded body must reach the upstream intact")
}

func TestAdminBypassesExplicitDenial(t *testing.T) {
	v := newEnv(t)
	v.store.AddUser("root@example.com", "pw", true)
	v.store.SetGrant(store.KindExperiment, "7", "root@example.com", "NO_PERMISSIONS")

	rec := v.request(http.MethodPost, "/api/2.0/mlflow/experiments/delete",
		`{"experiment_id": "7"}`, asUser("root@example.com", "pw"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRunRouteResolvesParentExperiment(t *testing.T) {
	v := newEnv(t)
	v.store.AddUser("alice@example.com", "pw", false)
	v.tracking.AddRun("run-1", "7")
	v.store.SetGrant(store.KindExperiment, "7", "alice@example.com", "EDIT")

	rec := v.request(http.MethodPost, "/api/2.0/mlflow/runs/log-metric",
		`{"run_id": "run-1", "key": "loss", "value": 0.1}`, asUser("alice@example.com", "pw"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRunUuidAliasAccepted(t *testing.T) {
	v := newEnv(t)
	v.store.AddUser("alice@example.com", "pw", false)
	v.tracking.AddRun("run-1", "7")
	v.store.SetGrant(store.KindExperiment, "7", "alice@example.com", "EDIT")

	// older clients send run_uuid in place of run_id
	rec := v.request(http.MethodPost, "/api/2.0/mlflow/runs/log-metric",
		`{"run_uuid": "run-1", "key": "loss", "value": 0.1}`, asUser("alice@example.com", "pw"))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = v.request(http.MethodGet, "/api/2.0/mlflow/runs/get?run_uuid=run-1", "", asUser("alice@example.com", "pw"))
	assert.Equal(t, http.StatusOK, rec.Code)

	// run_id wins when both are present
	v.store.SetGrant(store.KindExperiment, "7", "alice@example.com", "NO_PERMISSIONS")
	rec = v.request(http.MethodPost, "/api/2.0/mlflow/runs/log-metric",
		`{"run_id": "run-1", "run_uuid": "other", "key": "loss", "value": 0.1}`, asUser("alice@example.com", "pw"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUnknownRunYields404(t *testing.T) {
	v := newEnv(t)
	v.store.AddUser("alice@example.com", "pw", false)

	rec := v.request(http.MethodPost, "/api/2.0/mlflow/runs/log-metric",
		`{"run_id": "missing"}`, asUser("alice@example.com", "pw"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExperimentByNameRoute(t *testing.T) {
	v := newEnv(t)
	v.store.AddUser("alice@example.com", "pw", false)
	v.tracking.AddExperiment("7", "churn")
	v.store.SetGrant(store.KindExperiment, "7", "alice@example.com", "NO_PERMISSIONS")

	rec := v.request(http.MethodGet, "/api/2.0/mlflow/experiments/get-by-name?experiment_name=churn", "",
		asUser("alice@example.com", "pw"))
	assert.Equal(t, http.StatusForbidden, rec.Code, "denial must apply to the resolved experiment id")
}

func TestMissingResourceParameter(t *testing.T) {
	v := newEnv(t)
	v.store.AddUser("alice@example.com", "pw", false)

	rec := v.request(http.MethodGet, "/api/2.0/mlflow/experiments/get", "", asUser("alice@example.com", "pw"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoginRedirectForBrowsers(t *testing.T) {
	v := newEnv(t)
	config.VConfig.Set(config.AutomaticLoginRedirect, true)

	rec := v.request(http.MethodGet, "/api/2.0/mlflow/experiments/search", "", func(req *http.Request) {
		req.Header.Set(echo.HeaderAccept, echo.MIMETextHTML)
	})
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get(echo.HeaderLocation))

	// API clients still receive 401
	rec = v.request(http.MethodGet, "/api/2.0/mlflow/experiments/search", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
