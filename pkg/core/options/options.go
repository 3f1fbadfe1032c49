//
//  Copyright © Manetu Inc. All rights reserved.
//
// shared between pkg/core and the serve command, and thus must be in a separate package to avoid circular dependencies

package options

import (
	"time"

	"github.com/manetu/trackauth/internal/logging"
	"github.com/manetu/trackauth/pkg/core/config"
	"github.com/manetu/trackauth/pkg/core/groups"
	"github.com/manetu/trackauth/pkg/core/store"
	"github.com/manetu/trackauth/pkg/core/token"
	"github.com/manetu/trackauth/pkg/core/tracking"
)

var logger = logging.GetLogger("trackauth")

// AuthorizerOptions defines the configuration options for initializing an
// authorizer, including factories and gateways for its collaborators.
type AuthorizerOptions struct {
	StoreFactory   store.Factory
	Tracking       tracking.Service
	TokenValidator token.Validator
	GroupResolver  groups.Resolver
	SessionTTL     time.Duration
}

// AuthorizerOptionsFunc is a function that modifies AuthorizerOptions.
type AuthorizerOptionsFunc func(*AuthorizerOptions)

// WithStore configures the permission store factory.
func WithStore(factory store.Factory) AuthorizerOptionsFunc {
	return func(o *AuthorizerOptions) {
		if config.VConfig.GetBool(config.MockEnabled) {
			logger.Warn("Ignoring store factory as mock mode is enabled")
		} else {
			o.StoreFactory = factory
		}
	}
}

// WithTracking configures the tracking server gateway.
func WithTracking(svc tracking.Service) AuthorizerOptionsFunc {
	return func(o *AuthorizerOptions) {
		if config.VConfig.GetBool(config.MockEnabled) {
			logger.Warn("Ignoring tracking gateway as mock mode is enabled")
		} else {
			o.Tracking = svc
		}
	}
}

// WithTokenValidator configures the bearer token validator.
func WithTokenValidator(v token.Validator) AuthorizerOptionsFunc {
	return func(o *AuthorizerOptions) {
		o.TokenValidator = v
	}
}

// WithGroupResolver configures a group-detection resolver, overriding the
// default of reading groups from the token claims.
func WithGroupResolver(r groups.Resolver) AuthorizerOptionsFunc {
	return func(o *AuthorizerOptions) {
		o.GroupResolver = r
	}
}

// WithSessionTTL configures how long login sessions remain valid.
func WithSessionTTL(ttl time.Duration) AuthorizerOptionsFunc {
	return func(o *AuthorizerOptions) {
		o.SessionTTL = ttl
	}
}
