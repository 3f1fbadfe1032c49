//
//  Copyright © Manetu Inc. All rights reserved.
//

package guard

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/manetu/trackauth/pkg/core/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminAPIRequiresAdmin(t *testing.T) {
	v := newEnv(t)
	v.store.AddUser("alice@example.com", "pw", false)

	rec := v.request(http.MethodPost, "/api/2.0/trackauth/users",
		`{"username": "x@example.com"}`, asUser("alice@example.com", "pw"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = v.request(http.MethodPost, "/api/2.0/trackauth/users", `{"username": "x@example.com"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminUserLifecycle(t *testing.T) {
	v := newEnv(t)
	v.store.AddUser("root@example.com", "pw", true)

	rec := v.request(http.MethodPost, "/api/2.0/trackauth/users",
		`{"username": "Bob@Example.com", "display_name": "Bob", "password": "s3cret"}`,
		asUser("root@example.com", "pw"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = v.request(http.MethodPut, "/api/2.0/trackauth/users/bob@example.com/groups",
		`{"groups": ["data-science"]}`, asUser("root@example.com", "pw"))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = v.request(http.MethodGet, "/api/2.0/trackauth/users/bob@example.com", "",
		asUser("root@example.com", "pw"))
	require.Equal(t, http.StatusOK, rec.Code)

	var user struct {
		Username string   `json:"username"`
		IsAdmin  bool     `json:"is_admin"`
		Groups   []string `json:"groups"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &user))
	assert.Equal(t, "bob@example.com", user.Username)
	assert.False(t, user.IsAdmin)
	assert.Equal(t, []string{"data-science"}, user.Groups)

	rec = v.request(http.MethodGet, "/api/2.0/trackauth/users/ghost@example.com", "",
		asUser("root@example.com", "pw"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminGrantManagement(t *testing.T) {
	v := newEnv(t)
	v.store.AddUser("root@example.com", "pw", true)
	v.store.AddUser("alice@example.com", "pw", false)

	rec := v.request(http.MethodPut, "/api/2.0/trackauth/grants",
		`{"kind": "experiment", "resource_id": "7", "principal": "alice@example.com", "permission": "MANAGE"}`,
		asUser("root@example.com", "pw"))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = v.request(http.MethodGet,
		"/api/2.0/trackauth/permissions?kind=experiment&resource_id=7&username=alice@example.com", "",
		asUser("root@example.com", "pw"))
	require.Equal(t, http.StatusOK, rec.Code)

	var res struct {
		Permission string `json:"permission"`
		Tier       string `json:"tier"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "MANAGE", res.Permission)
	assert.Equal(t, "user", res.Tier)

	// the new grant is live for the guarded routes
	rec = v.request(http.MethodPost, "/api/2.0/mlflow/experiments/delete",
		`{"experiment_id": "7"}`, asUser("alice@example.com", "pw"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminGrantRevocation(t *testing.T) {
	v := newEnv(t)
	v.store.AddUser("root@example.com", "pw", true)
	v.store.AddUser("alice@example.com", "pw", false)

	rec := v.request(http.MethodPut, "/api/2.0/trackauth/grants",
		`{"kind": "experiment", "resource_id": "7", "principal": "alice@example.com", "permission": "MANAGE"}`,
		asUser("root@example.com", "pw"))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = v.request(http.MethodPost, "/api/2.0/mlflow/experiments/delete",
		`{"experiment_id": "7"}`, asUser("alice@example.com", "pw"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = v.request(http.MethodDelete, "/api/2.0/trackauth/grants",
		`{"kind": "experiment", "resource_id": "7", "principal": "alice@example.com"}`,
		asUser("root@example.com", "pw"))
	require.Equal(t, http.StatusNoContent, rec.Code)

	// with the grant revoked the fallback READ denies the delete again
	rec = v.request(http.MethodPost, "/api/2.0/mlflow/experiments/delete",
		`{"experiment_id": "7"}`, asUser("alice@example.com", "pw"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// revoking a grant that no longer exists reports 404
	rec = v.request(http.MethodDelete, "/api/2.0/trackauth/grants",
		`{"kind": "experiment", "resource_id": "7", "principal": "alice@example.com"}`,
		asUser("root@example.com", "pw"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminRegexGrant(t *testing.T) {
	v := newEnv(t)
	v.store.AddUser("root@example.com", "pw", true)

	rec := v.request(http.MethodPut, "/api/2.0/trackauth/grants",
		`{"kind": "registered_model", "pattern": "^team-", "principal": "data-science", "group": true, "permission": "EDIT"}`,
		asUser("root@example.com", "pw"))
	require.Equal(t, http.StatusNoContent, rec.Code)

	grants, err := v.store.ListGroupRegisteredModelRegexGrants(context.Background(), "data-science")
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, store.RegexGrant{Pattern: "^team-", Principal: "data-science", Permission: "EDIT"}, grants[0])

	rec = v.request(http.MethodDelete, "/api/2.0/trackauth/grants",
		`{"kind": "registered_model", "pattern": "^team-", "principal": "data-science", "group": true}`,
		asUser("root@example.com", "pw"))
	require.Equal(t, http.StatusNoContent, rec.Code)

	grants, err = v.store.ListGroupRegisteredModelRegexGrants(context.Background(), "data-science")
	require.NoError(t, err)
	assert.Empty(t, grants)
}

func TestAdminGrantValidation(t *testing.T) {
	v := newEnv(t)
	v.store.AddUser("root@example.com", "pw", true)

	// unrecognized permission name
	rec := v.request(http.MethodPut, "/api/2.0/trackauth/grants",
		`{"kind": "experiment", "resource_id": "7", "principal": "alice", "permission": "OWNER"}`,
		asUser("root@example.com", "pw"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// both resource_id and pattern
	rec = v.request(http.MethodPut, "/api/2.0/trackauth/grants",
		`{"kind": "experiment", "resource_id": "7", "pattern": ".*", "principal": "alice", "permission": "READ"}`,
		asUser("root@example.com", "pw"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// missing principal
	rec = v.request(http.MethodPut, "/api/2.0/trackauth/grants",
		`{"kind": "experiment", "resource_id": "7", "permission": "READ"}`,
		asUser("root@example.com", "pw"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// unknown resource kind, on upsert and on delete
	rec = v.request(http.MethodPut, "/api/2.0/trackauth/grants",
		`{"kind": "dataset", "resource_id": "7", "principal": "alice", "permission": "READ"}`,
		asUser("root@example.com", "pw"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = v.request(http.MethodDelete, "/api/2.0/trackauth/grants",
		`{"kind": "run", "resource_id": "run-1", "principal": "alice"}`,
		asUser("root@example.com", "pw"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
