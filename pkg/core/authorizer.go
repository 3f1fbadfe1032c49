//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package core provides the primary interface for trackauth, an
// authorization layer for an MLflow-style tracking server.
//
// The authorizer resolves request credentials (session, HTTP Basic, or
// bearer token) to an identity, then computes the caller's effective
// permission on a resource by walking user grants, group grants, and the
// configured fallback, in that order.
//
// # Quick Start
//
// Create an authorizer with default options (in-memory store and tracking
// gateway):
//
//	az, err := core.NewAuthorizer()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Authenticate a request and check access:
//
//	identity, err := az.Authenticate(ctx, auth.Credentials{BearerToken: raw})
//	if err != nil {
//	    // 401
//	}
//	if err := az.CheckAccess(ctx, identity, store.KindExperiment, "7", permissions.CapabilityUpdate); err != nil {
//	    // 403
//	}
//
// # Configuration
//
// Production collaborators are wired via functional options:
//
//	az, err := core.NewAuthorizer(
//	    options.WithStore(sql.NewFactory()),
//	    options.WithTracking(tracking.NewClient(url, nil)),
//	)
//
// See the [options] package for all available configuration options.
package core

import (
	"context"

	"github.com/manetu/trackauth/internal/core"
	"github.com/manetu/trackauth/internal/logging"
	"github.com/manetu/trackauth/pkg/common"
	"github.com/manetu/trackauth/pkg/core/auth"
	"github.com/manetu/trackauth/pkg/core/config"
	"github.com/manetu/trackauth/pkg/core/groups"
	"github.com/manetu/trackauth/pkg/core/options"
	"github.com/manetu/trackauth/pkg/core/permissions"
	"github.com/manetu/trackauth/pkg/core/store"
	"github.com/manetu/trackauth/pkg/core/store/fake"
	"github.com/manetu/trackauth/pkg/core/token"
	"github.com/manetu/trackauth/pkg/core/tracking"
	"github.com/pkg/errors"
)

var logger = logging.GetLogger("trackauth")

// Authorizer is the primary interface for authenticating requests and
// making access decisions.
//
// Implementations of Authorizer are safe for concurrent use by multiple
// goroutines.
type Authorizer interface {
	// Authenticate resolves request credentials to an identity. Failures
	// carry a [common.AuthError] reason code and map to HTTP 401.
	Authenticate(ctx context.Context, creds auth.Credentials) (*auth.Identity, error)

	// Login provisions the user from completed-login claims and opens a
	// server-side session.
	Login(ctx context.Context, username, displayName string, memberships []string) (*auth.Session, error)

	// Logout destroys a session. Unknown ids are ignored.
	Logout(sessionID string)

	// ResolvePermission computes the effective permission for username on
	// the given resource. memberships may be nil, in which case the user's
	// groups are read from the store.
	ResolvePermission(ctx context.Context, kind store.Kind, resourceID, username string, memberships []string) (*permissions.Result, error)

	// CheckAccess verifies that the identity may exercise the given
	// capability on the resource. Admin identities bypass resolution
	// entirely. A denial is reported as [common.CodeForbidden].
	CheckAccess(ctx context.Context, identity *auth.Identity, kind store.Kind, resourceID string, capability permissions.Capability) error

	// ExperimentIDForName resolves an experiment name to its id via the
	// tracking server.
	ExperimentIDForName(ctx context.Context, name string) (string, error)

	// GetStore returns the underlying permission store, for administrative
	// surfaces that manage users and grants directly.
	GetStore() store.Service
}

// AuthorizerImpl is the default implementation of the [Authorizer]
// interface.
//
// Use [NewAuthorizer] to create a properly initialized instance.
type AuthorizerImpl struct {
	engine   *core.Engine
	resolver *auth.Resolver
	store    store.Service
}

// NewAuthorizer creates and initializes a new [Authorizer] instance.
//
// By default, the authorizer uses the in-memory store and tracking gateway.
// Use functional options to configure production collaborators:
//
//	az, err := core.NewAuthorizer(
//	    options.WithStore(sql.NewFactory()),
//	    options.WithTracking(tracking.NewClient(url, nil)),
//	)
//
// NewAuthorizer loads configuration from environment variables and config
// files before initializing. See the [config] package for details.
func NewAuthorizer(authorizerOptions ...options.AuthorizerOptionsFunc) (Authorizer, error) {
	if err := config.Load(); err != nil {
		return nil, errors.Wrap(err, "error loading config")
	}

	opts := &options.AuthorizerOptions{
		StoreFactory: fake.NewFactory(),
		Tracking:     tracking.NewFake(),
		SessionTTL:   auth.DefaultSessionTTL,
	}
	for _, o := range authorizerOptions {
		o(opts)
	}

	if opts.TokenValidator == nil {
		fetcher := token.NewHTTPFetcher(config.VConfig.GetString(config.OIDCDiscoveryURL), nil)
		var vopts []token.ValidatorOption
		if aud := config.VConfig.GetString(config.OIDCClientID); aud != "" {
			vopts = append(vopts, token.WithAudience(aud))
		}
		opts.TokenValidator = token.NewValidator(fetcher, config.VConfig.GetDuration(config.JwksTTL), vopts...)
	}

	if opts.GroupResolver == nil {
		if name := config.VConfig.GetString(config.GroupDetectionPlugin); name != "" {
			r, err := groups.New(name)
			if err != nil {
				return nil, errors.Wrap(err, "error initializing group resolver")
			}
			logger.Infof("group detection delegated to '%s' resolver", name)
			opts.GroupResolver = r
		}
	}

	svc, err := opts.StoreFactory.NewStore()
	if err != nil {
		return nil, errors.Wrap(err, "error initializing store")
	}

	return &AuthorizerImpl{
		engine:   core.NewEngine(svc, opts.Tracking),
		resolver: auth.NewResolver(svc, opts.TokenValidator, auth.NewSessionManager(opts.SessionTTL), opts.GroupResolver),
		store:    svc,
	}, nil
}

// Authenticate resolves request credentials to an identity.
func (a *AuthorizerImpl) Authenticate(ctx context.Context, creds auth.Credentials) (*auth.Identity, error) {
	return a.resolver.ResolveIdentity(ctx, creds)
}

// Login provisions the user and opens a session.
func (a *AuthorizerImpl) Login(ctx context.Context, username, displayName string, memberships []string) (*auth.Session, error) {
	return a.resolver.Login(ctx, username, displayName, memberships)
}

// Logout destroys a session.
func (a *AuthorizerImpl) Logout(sessionID string) {
	a.resolver.Sessions().Destroy(sessionID)
}

// ResolvePermission computes the effective permission for username on the
// given resource.
func (a *AuthorizerImpl) ResolvePermission(ctx context.Context, kind store.Kind, resourceID, username string, memberships []string) (*permissions.Result, error) {
	return a.engine.ResolvePermission(ctx, kind, resourceID, username, memberships)
}

// CheckAccess verifies that the identity may exercise the given capability
// on the resource.
func (a *AuthorizerImpl) CheckAccess(ctx context.Context, identity *auth.Identity, kind store.Kind, resourceID string, capability permissions.Capability) error {
	if identity.IsAdmin {
		logger.Debugf("admin %s bypasses %s check on %s/%s", identity.Username, capability, kind, resourceID)
		return nil
	}

	res, err := a.engine.ResolvePermission(ctx, kind, resourceID, identity.Username, identity.Groups)
	if err != nil {
		return err
	}
	if !res.Permission.Allows(capability) {
		return common.NewErrorf(common.CodeForbidden,
			"%s on %s/%s requires %s; %s grants %s",
			identity.Username, kind, resourceID, capability, res.Tier, res.Permission.Name)
	}
	return nil
}

// ExperimentIDForName resolves an experiment name to its id.
func (a *AuthorizerImpl) ExperimentIDForName(ctx context.Context, name string) (string, error) {
	return a.engine.ExperimentIDForName(ctx, name)
}

// GetStore returns the underlying permission store.
func (a *AuthorizerImpl) GetStore() store.Service {
	return a.store
}
