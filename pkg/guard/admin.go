//
//  Copyright © Manetu Inc. All rights reserved.
//

package guard

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/manetu/trackauth/pkg/common"
	"github.com/manetu/trackauth/pkg/core"
	"github.com/manetu/trackauth/pkg/core/permissions"
	"github.com/manetu/trackauth/pkg/core/store"
)

// AdminAPI is the permission-management surface, mounted under
// /api/2.0/trackauth and restricted to admin identities.
type AdminAPI struct {
	az core.Authorizer
}

// NewAdminAPI creates the permission-management surface.
func NewAdminAPI(az core.Authorizer) *AdminAPI {
	return &AdminAPI{az: az}
}

// Register attaches the admin routes to the given group. The group is
// expected to already carry [RequireAuth].
func (a *AdminAPI) Register(g *echo.Group) {
	g.Use(RequireAdmin)
	g.POST("/users", a.createUser)
	g.GET("/users/:username", a.getUser)
	g.PUT("/users/:username/groups", a.updateUserGroups)
	g.PUT("/grants", a.upsertGrant)
	g.DELETE("/grants", a.deleteGrant)
	g.GET("/permissions", a.resolvePermission)
}

type userRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
	IsAdmin     bool   `json:"is_admin"`
}

func (a *AdminAPI) createUser(c echo.Context) error {
	var req userRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if req.Username == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "username is required")
	}

	username := strings.ToLower(req.Username)
	if req.DisplayName == "" {
		req.DisplayName = username
	}
	if err := a.az.GetStore().CreateUser(c.Request().Context(), username, req.DisplayName, req.IsAdmin, req.Password); err != nil {
		return reject(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"username": username})
}

func (a *AdminAPI) getUser(c echo.Context) error {
	username := strings.ToLower(c.Param("username"))
	user, err := a.az.GetStore().GetUser(c.Request().Context(), username)
	if err != nil {
		return reject(c, err)
	}
	memberships, err := a.az.GetStore().GetGroupsForUser(c.Request().Context(), username)
	if err != nil && !common.IsNotFound(err) {
		return reject(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"username":     user.Username,
		"display_name": user.DisplayName,
		"is_admin":     user.IsAdmin,
		"groups":       memberships,
	})
}

func (a *AdminAPI) updateUserGroups(c echo.Context) error {
	var req struct {
		Groups []string `json:"groups"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	username := strings.ToLower(c.Param("username"))
	svc := a.az.GetStore()
	if err := svc.PopulateGroups(c.Request().Context(), req.Groups); err != nil {
		return reject(c, err)
	}
	if err := svc.UpdateUserGroups(c.Request().Context(), username, req.Groups); err != nil {
		return reject(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type grantRequest struct {
	Kind       string `json:"kind"`
	ResourceID string `json:"resource_id"`
	Pattern    string `json:"pattern"`
	Principal  string `json:"principal"`
	Group      bool   `json:"group"`
	Permission string `json:"permission"`
}

// grantKinds are the kinds that carry grants of their own; runs resolve
// through their parent experiment and cannot be granted directly.
var grantKinds = map[store.Kind]bool{
	store.KindExperiment:      true,
	store.KindRegisteredModel: true,
	store.KindPrompt:          true,
}

// validateTarget checks the fields shared by grant upserts and deletions.
func (r *grantRequest) validateTarget() error {
	if !grantKinds[store.Kind(r.Kind)] {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown resource kind '%s'", r.Kind))
	}
	if r.Principal == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "principal is required")
	}
	if (r.ResourceID == "") == (r.Pattern == "") {
		return echo.NewHTTPError(http.StatusBadRequest, "exactly one of resource_id or pattern is required")
	}
	return nil
}

func (a *AdminAPI) adminStore(c echo.Context) (store.Admin, *grantRequest, error) {
	var req grantRequest
	if err := c.Bind(&req); err != nil {
		return nil, nil, echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if err := req.validateTarget(); err != nil {
		return nil, nil, err
	}
	admin, ok := a.az.GetStore().(store.Admin)
	if !ok {
		return nil, nil, echo.NewHTTPError(http.StatusNotImplemented, "store does not support grant management")
	}
	return admin, &req, nil
}

func (a *AdminAPI) upsertGrant(c echo.Context) error {
	admin, req, err := a.adminStore(c)
	if err != nil {
		return err
	}
	if _, err := permissions.Get(req.Permission); err != nil {
		return reject(c, err)
	}

	if req.Pattern != "" {
		err = admin.UpsertRegexGrant(c.Request().Context(), store.Kind(req.Kind), req.Pattern, req.Principal, req.Group, req.Permission)
	} else {
		err = admin.UpsertGrant(c.Request().Context(), store.Kind(req.Kind), req.ResourceID, req.Principal, req.Group, req.Permission)
	}
	if err != nil {
		return reject(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (a *AdminAPI) deleteGrant(c echo.Context) error {
	admin, req, err := a.adminStore(c)
	if err != nil {
		return err
	}

	if req.Pattern != "" {
		err = admin.DeleteRegexGrant(c.Request().Context(), store.Kind(req.Kind), req.Pattern, req.Principal, req.Group)
	} else {
		err = admin.DeleteGrant(c.Request().Context(), store.Kind(req.Kind), req.ResourceID, req.Principal, req.Group)
	}
	if err != nil {
		return reject(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// resolvePermission reports the effective permission a user holds on a
// resource, for inspection by administrators.
func (a *AdminAPI) resolvePermission(c echo.Context) error {
	kind := c.QueryParam("kind")
	resourceID := c.QueryParam("resource_id")
	username := strings.ToLower(c.QueryParam("username"))
	if kind == "" || resourceID == "" || username == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "kind, resource_id, and username are required")
	}

	res, err := a.az.ResolvePermission(c.Request().Context(), store.Kind(kind), resourceID, username, nil)
	if err != nil {
		return reject(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"permission": res.Permission.Name,
		"tier":       string(res.Tier),
	})
}
