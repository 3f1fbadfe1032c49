//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package auth resolves request credentials to an authenticated identity.
//
// Three credential kinds are recognized, in strict precedence order:
//
//  1. Session: an id referencing a server-side session created at login.
//     The fast path; no store authentication or token validation happens.
//  2. HTTP Basic: a username/password pair checked against the store.
//  3. Bearer: a JWT validated against the provider's published keys.
//
// The first kind present decides the outcome. A request carrying both a
// valid session and an invalid bearer token authenticates via the session;
// a request whose session is bogus fails even if its bearer token is good.
package auth

import (
	"context"
	"strings"
	"time"

	"github.com/manetu/trackauth/internal/logging"
	"github.com/manetu/trackauth/pkg/common"
	"github.com/manetu/trackauth/pkg/core/config"
	"github.com/manetu/trackauth/pkg/core/groups"
	"github.com/manetu/trackauth/pkg/core/store"
	"github.com/manetu/trackauth/pkg/core/token"
)

var logger = logging.GetLogger("trackauth.auth")

// Credentials carries whatever credential material was found on a request.
// Absent kinds are left zero-valued.
type Credentials struct {
	SessionID     string
	BasicUsername string
	BasicPassword string
	BearerToken   string
}

// Identity is the outcome of successful credential resolution.
type Identity struct {
	Username string
	IsAdmin  bool
	// Groups are the caller's recognized group memberships. Empty for Basic
	// authentication, where groups are resolved from the store on demand.
	Groups []string
	// Method records which credential kind authenticated the request:
	// "session", "basic", or "bearer".
	Method string
}

// Resolver turns request credentials into an authenticated [Identity].
type Resolver struct {
	store         store.Service
	validator     token.Validator
	sessions      *SessionManager
	groupResolver groups.Resolver
}

// NewResolver creates a credential resolver. groupResolver may be nil, in
// which case bearer groups are read from the token's configured claims
// attribute.
func NewResolver(svc store.Service, validator token.Validator, sessions *SessionManager, groupResolver groups.Resolver) *Resolver {
	return &Resolver{
		store:         svc,
		validator:     validator,
		sessions:      sessions,
		groupResolver: groupResolver,
	}
}

// Sessions exposes the session manager, for login/logout handlers.
func (r *Resolver) Sessions() *SessionManager {
	return r.sessions
}

// ResolveIdentity authenticates the given credentials.
//
// Failures are reported as [common.AuthError] values: CodeNoCredentials when
// nothing usable was presented, CodeInvalidCredentials for bad sessions and
// passwords, and the token reason codes for bearer failures.
func (r *Resolver) ResolveIdentity(ctx context.Context, creds Credentials) (*Identity, error) {
	switch {
	case creds.SessionID != "":
		return r.resolveSession(ctx, creds.SessionID)
	case creds.BasicUsername != "" || creds.BasicPassword != "":
		return r.resolveBasic(ctx, creds.BasicUsername, creds.BasicPassword)
	case creds.BearerToken != "":
		return r.resolveBearer(ctx, creds.BearerToken)
	}
	return nil, common.NewError(common.CodeNoCredentials, "no credentials presented")
}

func (r *Resolver) resolveSession(ctx context.Context, id string) (*Identity, error) {
	sess, ok := r.sessions.Get(id)
	if !ok {
		return nil, common.NewError(common.CodeInvalidCredentials, "session is invalid or expired")
	}
	return r.identify(ctx, sess.Username, sess.Groups, "session")
}

func (r *Resolver) resolveBasic(ctx context.Context, username, password string) (*Identity, error) {
	username = strings.ToLower(username)
	ok, err := r.store.AuthenticateUser(ctx, username, password)
	if err != nil {
		if common.IsNotFound(err) {
			return nil, common.NewErrorf(common.CodeInvalidCredentials, "unknown user %s", username)
		}
		return nil, err
	}
	if !ok {
		return nil, common.NewErrorf(common.CodeInvalidCredentials, "password verification failed for %s", username)
	}

	// Basic identities carry no group claims; group memberships are read
	// from the store when a permission decision needs them.
	return r.identify(ctx, username, nil, "basic")
}

func (r *Resolver) resolveBearer(ctx context.Context, raw string) (*Identity, error) {
	claims, err := r.validator.Validate(ctx, raw)
	if err != nil {
		return nil, err
	}
	if claims.Email == "" {
		return nil, common.NewError(common.CodeInvalidToken, "token carries no email claim")
	}
	username := strings.ToLower(claims.Email)

	var memberships []string
	if r.groupResolver != nil {
		memberships, err = r.groupResolver.ResolveGroups(ctx, raw)
		if err != nil {
			return nil, common.NewErrorf(common.CodeInvalidToken, "group resolution failed: %v", err)
		}
	} else {
		memberships = claims.StringList(config.VConfig.GetString(config.OIDCGroupsAttribute))
	}

	recognized := FilterGroups(memberships)
	if len(recognized) == 0 {
		return nil, common.NewErrorf(common.CodeInvalidCredentials, "user %s is not a member of any recognized group", username)
	}

	identity, err := r.identify(ctx, username, recognized, "bearer")
	if err != nil {
		return nil, err
	}

	// First contact through a bearer token provisions the user record so
	// that grants can be attached to it later.
	if err := r.EnsureUser(ctx, username, username, identity.IsAdmin, recognized); err != nil {
		logger.Warnf("login upsert for %s failed: %v", username, err)
	}
	return identity, nil
}

// identify assembles the Identity for an authenticated username, reading the
// admin flag from the store record when one exists. Membership in the
// configured admin group also confers admin.
func (r *Resolver) identify(ctx context.Context, username string, memberships []string, method string) (*Identity, error) {
	identity := &Identity{
		Username: username,
		Groups:   memberships,
		Method:   method,
	}

	user, err := r.store.GetUser(ctx, username)
	switch {
	case err == nil:
		identity.IsAdmin = user.IsAdmin
	case common.IsNotFound(err):
		// Not yet provisioned; admin can still come from group membership.
	default:
		return nil, err
	}

	if admin := config.VConfig.GetString(config.OIDCAdminGroupName); admin != "" {
		for _, g := range memberships {
			if g == admin {
				identity.IsAdmin = true
				break
			}
		}
	}

	logger.Debugf("resolved %s via %s (admin=%v groups=%v)", username, method, identity.IsAdmin, identity.Groups)
	return identity, nil
}

// EnsureUser performs the login-time upsert: create-or-update the user
// record, ensure the group records exist, then replace the user's
// memberships. The steps are individually idempotent but not transactional;
// the first failure aborts the sequence.
func (r *Resolver) EnsureUser(ctx context.Context, username, displayName string, isAdmin bool, memberships []string) error {
	if err := r.store.CreateUser(ctx, username, displayName, isAdmin, ""); err != nil {
		return err
	}
	if err := r.store.PopulateGroups(ctx, memberships); err != nil {
		return err
	}
	return r.store.UpdateUserGroups(ctx, username, memberships)
}

// Login authenticates completed-login claims (typically from the OIDC code
// exchange), provisions the user, and opens a session. The returned session
// id is what the login handler places in the session cookie.
func (r *Resolver) Login(ctx context.Context, username, displayName string, memberships []string) (*Session, error) {
	username = strings.ToLower(username)
	recognized := FilterGroups(memberships)
	if len(recognized) == 0 {
		return nil, common.NewErrorf(common.CodeInvalidCredentials, "user %s is not a member of any recognized group", username)
	}

	isAdmin := false
	if admin := config.VConfig.GetString(config.OIDCAdminGroupName); admin != "" {
		for _, g := range recognized {
			if g == admin {
				isAdmin = true
				break
			}
		}
	}

	if err := r.EnsureUser(ctx, username, displayName, isAdmin, recognized); err != nil {
		return nil, err
	}
	return r.sessions.Create(username, recognized), nil
}

// FilterGroups drops memberships outside the configured recognized set (the
// oidc.groupnames list plus the admin group). Order is preserved.
func FilterGroups(memberships []string) []string {
	recognized := config.RecognizedGroups()
	allowed := make(map[string]struct{}, len(recognized))
	for _, g := range recognized {
		allowed[g] = struct{}{}
	}

	var out []string
	for _, g := range memberships {
		if _, ok := allowed[g]; ok {
			out = append(out, g)
		}
	}
	return out
}

// DefaultSessionTTL is how long login sessions remain valid.
const DefaultSessionTTL = 24 * time.Hour
