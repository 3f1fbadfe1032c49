//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package store defines the interfaces for the permission store gateway.
//
// The store owns users, groups, and grants. The authorization core consumes
// it read-mostly: grant lookups during permission resolution, credential
// checks for HTTP Basic authentication, and the login-time user upsert.
//
// # Built-in Implementations
//
//   - [github.com/manetu/trackauth/pkg/core/store/sql]: database/sql
//     implementation (sqlite3 or postgres)
//   - [github.com/manetu/trackauth/pkg/core/store/fake]: in-memory
//     implementation for tests and mock mode
//
// # Error Handling
//
// Grant lookups signal an absent grant with a [common.AuthError] carrying
// [common.CodeResourceDoesNotExist]. That specific code is the fallthrough
// signal in the permission resolver; any other error is treated as a store
// failure and propagated. User lookups signal missing users with
// [common.CodeNotFound].
package store

import (
	"context"
)

// User is the store's record of a known user.
type User struct {
	Username    string
	DisplayName string
	IsAdmin     bool
}

// Grant associates a resource and a principal (user or group) with a
// permission name, keyed by the literal resource id or name.
type Grant struct {
	ResourceID string
	Principal  string
	Permission string
}

// RegexGrant associates a principal with a permission for every resource
// whose id or name matches Pattern.
type RegexGrant struct {
	Pattern    string
	Principal  string
	Permission string
}

// Factory creates store [Service] instances.
//
// The factory pattern separates early initialization (configuration
// defaults) from late initialization (opening connections, bootstrapping
// schema). Configuration is fully loaded before NewStore is called.
type Factory interface {
	// NewStore creates a new store service instance.
	//
	// Returns an error if the store cannot be initialized (e.g., database
	// connection failure).
	NewStore() (Service, error)
}

// Service provides access to users, groups, and grants.
//
// All methods are safe for concurrent use by multiple goroutines. Each call
// is assumed atomic; multi-step flows such as the login-time upsert are not
// wrapped in a transaction and may partially apply if the store fails
// mid-sequence.
type Service interface {
	// AuthenticateUser verifies a username/password pair.
	AuthenticateUser(ctx context.Context, username, password string) (bool, error)

	// GetUser retrieves a user record. Fails with CodeNotFound for unknown users.
	GetUser(ctx context.Context, username string) (*User, error)

	// GetGroupsForUser returns the group names the user is a member of.
	GetGroupsForUser(ctx context.Context, username string) ([]string, error)

	// CreateUser creates a user record, or updates display name and admin
	// flag if the user already exists. Idempotent.
	CreateUser(ctx context.Context, username, displayName string, isAdmin bool, password string) error

	// PopulateGroups ensures a group record exists for every given name. Idempotent.
	PopulateGroups(ctx context.Context, groups []string) error

	// UpdateUserGroups replaces the user's group memberships.
	UpdateUserGroups(ctx context.Context, username string, groups []string) error

	// Experiment grants, keyed by experiment id.

	GetExperimentGrant(ctx context.Context, experimentID, username string) (*Grant, error)
	ListExperimentRegexGrants(ctx context.Context, username string) ([]RegexGrant, error)
	GetGroupExperimentGrant(ctx context.Context, experimentID, group string) (*Grant, error)
	ListGroupExperimentRegexGrants(ctx context.Context, group string) ([]RegexGrant, error)

	// Registered-model grants, keyed by model name.

	GetRegisteredModelGrant(ctx context.Context, name, username string) (*Grant, error)
	ListRegisteredModelRegexGrants(ctx context.Context, username string) ([]RegexGrant, error)
	GetGroupRegisteredModelGrant(ctx context.Context, name, group string) (*Grant, error)
	ListGroupRegisteredModelRegexGrants(ctx context.Context, group string) ([]RegexGrant, error)

	// Prompt grants, keyed by prompt name.

	GetPromptGrant(ctx context.Context, name, username string) (*Grant, error)
	ListPromptRegexGrants(ctx context.Context, username string) ([]RegexGrant, error)
	GetGroupPromptGrant(ctx context.Context, name, group string) (*Grant, error)
	ListGroupPromptRegexGrants(ctx context.Context, group string) ([]RegexGrant, error)
}

// Admin is the optional write surface for managing grants. Stores that
// support administrative grant management implement it in addition to
// [Service].
type Admin interface {
	// UpsertGrant creates or replaces an exact grant. isGroup selects
	// whether principal names a group or a user.
	UpsertGrant(ctx context.Context, kind Kind, resourceID, principal string, isGroup bool, permission string) error

	// UpsertRegexGrant creates or replaces a regex grant.
	UpsertRegexGrant(ctx context.Context, kind Kind, pattern, principal string, isGroup bool, permission string) error

	// DeleteGrant removes an exact grant. Fails with CodeResourceDoesNotExist
	// when no such grant is stored.
	DeleteGrant(ctx context.Context, kind Kind, resourceID, principal string, isGroup bool) error

	// DeleteRegexGrant removes a regex grant. Fails with
	// CodeResourceDoesNotExist when no such grant is stored.
	DeleteRegexGrant(ctx context.Context, kind Kind, pattern, principal string, isGroup bool) error
}

// Kind identifies the resource kinds that carry grants of their own. Runs
// are resolved through their parent experiment and have no grant tables.
type Kind string

// Resource kinds.
const (
	KindExperiment      Kind = "experiment"
	KindRegisteredModel Kind = "registered_model"
	KindPrompt          Kind = "prompt"
	KindRun             Kind = "run"
)
