//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package fake provides an in-memory implementation of the store gateway.
//
// It backs unit tests and the mock mode enabled via TRACKAUTH_MOCK_ENABLED.
// All lookups return deep copies so callers can never mutate stored state.
package fake

import (
	"context"
	"sync"

	"github.com/manetu/trackauth/pkg/common"
	"github.com/manetu/trackauth/pkg/core/store"
	"github.com/mohae/deepcopy"
)

// Factory creates fake store instances.
type Factory struct{}

// NewFactory returns a factory for the in-memory store.
func NewFactory() *Factory {
	return &Factory{}
}

// NewStore creates an empty in-memory store.
func (f *Factory) NewStore() (store.Service, error) {
	return New(), nil
}

type userRecord struct {
	user     store.User
	password string
	groups   []string
}

// Store is an in-memory store gateway. Safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	users  map[string]*userRecord
	groups map[string]bool

	// exact grants per kind: resource id -> principal -> permission
	exact map[store.Kind]map[string]map[string]string
	// regex grants per kind: principal -> grants
	regex map[store.Kind]map[string][]store.RegexGrant
	// group-held variants
	groupExact map[store.Kind]map[string]map[string]string
	groupRegex map[store.Kind]map[string][]store.RegexGrant
}

// New creates an empty in-memory store.
func New() *Store {
	kinds := []store.Kind{store.KindExperiment, store.KindRegisteredModel, store.KindPrompt}
	s := &Store{
		users:      make(map[string]*userRecord),
		groups:     make(map[string]bool),
		exact:      make(map[store.Kind]map[string]map[string]string),
		regex:      make(map[store.Kind]map[string][]store.RegexGrant),
		groupExact: make(map[store.Kind]map[string]map[string]string),
		groupRegex: make(map[store.Kind]map[string][]store.RegexGrant),
	}
	for _, k := range kinds {
		s.exact[k] = make(map[string]map[string]string)
		s.regex[k] = make(map[string][]store.RegexGrant)
		s.groupExact[k] = make(map[string]map[string]string)
		s.groupRegex[k] = make(map[string][]store.RegexGrant)
	}
	return s
}

// SetGrant records an exact user grant for the given kind.
func (s *Store) SetGrant(kind store.Kind, resourceID, username, permission string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exact[kind][resourceID] == nil {
		s.exact[kind][resourceID] = make(map[string]string)
	}
	s.exact[kind][resourceID][username] = permission
}

// SetRegexGrant records a regex user grant for the given kind.
func (s *Store) SetRegexGrant(kind store.Kind, pattern, username, permission string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regex[kind][username] = append(s.regex[kind][username],
		store.RegexGrant{Pattern: pattern, Principal: username, Permission: permission})
}

// SetGroupGrant records an exact group grant for the given kind.
func (s *Store) SetGroupGrant(kind store.Kind, resourceID, group, permission string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.groupExact[kind][resourceID] == nil {
		s.groupExact[kind][resourceID] = make(map[string]string)
	}
	s.groupExact[kind][resourceID][group] = permission
}

// SetGroupRegexGrant records a regex group grant for the given kind.
func (s *Store) SetGroupRegexGrant(kind store.Kind, pattern, group, permission string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groupRegex[kind][group] = append(s.groupRegex[kind][group],
		store.RegexGrant{Pattern: pattern, Principal: group, Permission: permission})
}

// UpsertGrant creates or replaces an exact grant.
func (s *Store) UpsertGrant(_ context.Context, kind store.Kind, resourceID, principal string, isGroup bool, permission string) error {
	if _, ok := s.exact[kind]; !ok {
		return common.NewErrorf(common.CodeStoreError, "kind '%s' has no grant table", kind)
	}
	if isGroup {
		s.SetGroupGrant(kind, resourceID, principal, permission)
	} else {
		s.SetGrant(kind, resourceID, principal, permission)
	}
	return nil
}

// UpsertRegexGrant creates or replaces a regex grant.
func (s *Store) UpsertRegexGrant(_ context.Context, kind store.Kind, pattern, principal string, isGroup bool, permission string) error {
	if _, ok := s.regex[kind]; !ok {
		return common.NewErrorf(common.CodeStoreError, "kind '%s' has no grant table", kind)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	grants := s.regex[kind]
	if isGroup {
		grants = s.groupRegex[kind]
	}
	for i, g := range grants[principal] {
		if g.Pattern == pattern {
			grants[principal][i].Permission = permission
			return nil
		}
	}
	grants[principal] = append(grants[principal],
		store.RegexGrant{Pattern: pattern, Principal: principal, Permission: permission})
	return nil
}

// DeleteGrant removes an exact grant.
func (s *Store) DeleteGrant(_ context.Context, kind store.Kind, resourceID, principal string, isGroup bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	grants := s.exact
	if isGroup {
		grants = s.groupExact
	}
	byResource, ok := grants[kind]
	if !ok {
		return common.NewErrorf(common.CodeStoreError, "kind '%s' has no grant table", kind)
	}
	if _, ok := byResource[resourceID][principal]; !ok {
		return common.NewErrorf(common.CodeResourceDoesNotExist,
			"no grant for principal '%s' on '%s'", principal, resourceID)
	}
	delete(byResource[resourceID], principal)
	return nil
}

// DeleteRegexGrant removes a regex grant.
func (s *Store) DeleteRegexGrant(_ context.Context, kind store.Kind, pattern, principal string, isGroup bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	grants := s.regex
	if isGroup {
		grants = s.groupRegex
	}
	byPrincipal, ok := grants[kind]
	if !ok {
		return common.NewErrorf(common.CodeStoreError, "kind '%s' has no grant table", kind)
	}
	for i, g := range byPrincipal[principal] {
		if g.Pattern == pattern {
			byPrincipal[principal] = append(byPrincipal[principal][:i], byPrincipal[principal][i+1:]...)
			return nil
		}
	}
	return common.NewErrorf(common.CodeResourceDoesNotExist,
		"no regex grant '%s' for principal '%s'", pattern, principal)
}

// AddUser seeds a user with a plaintext password and group memberships.
func (s *Store) AddUser(username, password string, isAdmin bool, groups ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[username] = &userRecord{
		user:     store.User{Username: username, DisplayName: username, IsAdmin: isAdmin},
		password: password,
		groups:   groups,
	}
	for _, g := range groups {
		s.groups[g] = true
	}
}

// AuthenticateUser verifies a username/password pair.
func (s *Store) AuthenticateUser(_ context.Context, username, password string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.users[username]
	return ok && rec.password != "" && rec.password == password, nil
}

// GetUser retrieves a user record.
func (s *Store) GetUser(_ context.Context, username string) (*store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.users[username]
	if !ok {
		return nil, common.NewErrorf(common.CodeNotFound, "user '%s' not found", username)
	}
	u := deepcopy.Copy(rec.user).(store.User)
	return &u, nil
}

// GetGroupsForUser returns the group names the user is a member of.
func (s *Store) GetGroupsForUser(_ context.Context, username string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.users[username]
	if !ok {
		return nil, common.NewErrorf(common.CodeNotFound, "user '%s' not found", username)
	}
	if len(rec.groups) == 0 {
		return nil, nil
	}
	return deepcopy.Copy(rec.groups).([]string), nil
}

// CreateUser creates or updates a user record.
func (s *Store) CreateUser(_ context.Context, username, displayName string, isAdmin bool, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.users[username]; ok {
		rec.user.DisplayName = displayName
		rec.user.IsAdmin = isAdmin
		if password != "" {
			rec.password = password
		}
		return nil
	}
	s.users[username] = &userRecord{
		user:     store.User{Username: username, DisplayName: displayName, IsAdmin: isAdmin},
		password: password,
	}
	return nil
}

// PopulateGroups ensures a group record exists for every given name.
func (s *Store) PopulateGroups(_ context.Context, groups []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range groups {
		s.groups[g] = true
	}
	return nil
}

// UpdateUserGroups replaces the user's group memberships.
func (s *Store) UpdateUserGroups(_ context.Context, username string, groups []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[username]
	if !ok {
		return common.NewErrorf(common.CodeNotFound, "user '%s' not found", username)
	}
	rec.groups = append([]string(nil), groups...)
	return nil
}

func (s *Store) getExact(grants map[string]map[string]string, resourceID, principal string) (*store.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	perm, ok := grants[resourceID][principal]
	if !ok {
		return nil, common.NewErrorf(common.CodeResourceDoesNotExist,
			"no grant for principal '%s' on '%s'", principal, resourceID)
	}
	return &store.Grant{ResourceID: resourceID, Principal: principal, Permission: perm}, nil
}

func (s *Store) listRegex(grants map[string][]store.RegexGrant, principal string) ([]store.RegexGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g := grants[principal]
	if len(g) == 0 {
		return nil, nil
	}
	return deepcopy.Copy(g).([]store.RegexGrant), nil
}

// GetExperimentGrant returns the user's exact grant on an experiment.
func (s *Store) GetExperimentGrant(ctx context.Context, experimentID, username string) (*store.Grant, error) {
	return s.getExact(s.exact[store.KindExperiment], experimentID, username)
}

// ListExperimentRegexGrants returns the user's regex grants on experiments.
func (s *Store) ListExperimentRegexGrants(ctx context.Context, username string) ([]store.RegexGrant, error) {
	return s.listRegex(s.regex[store.KindExperiment], username)
}

// GetGroupExperimentGrant returns the group's exact grant on an experiment.
func (s *Store) GetGroupExperimentGrant(ctx context.Context, experimentID, group string) (*store.Grant, error) {
	return s.getExact(s.groupExact[store.KindExperiment], experimentID, group)
}

// ListGroupExperimentRegexGrants returns the group's regex grants on experiments.
func (s *Store) ListGroupExperimentRegexGrants(ctx context.Context, group string) ([]store.RegexGrant, error) {
	return s.listRegex(s.groupRegex[store.KindExperiment], group)
}

// GetRegisteredModelGrant returns the user's exact grant on a registered model.
func (s *Store) GetRegisteredModelGrant(ctx context.Context, name, username string) (*store.Grant, error) {
	return s.getExact(s.exact[store.KindRegisteredModel], name, username)
}

// ListRegisteredModelRegexGrants returns the user's regex grants on registered models.
func (s *Store) ListRegisteredModelRegexGrants(ctx context.Context, username string) ([]store.RegexGrant, error) {
	return s.listRegex(s.regex[store.KindRegisteredModel], username)
}

// GetGroupRegisteredModelGrant returns the group's exact grant on a registered model.
func (s *Store) GetGroupRegisteredModelGrant(ctx context.Context, name, group string) (*store.Grant, error) {
	return s.getExact(s.groupExact[store.KindRegisteredModel], name, group)
}

// ListGroupRegisteredModelRegexGrants returns the group's regex grants on registered models.
func (s *Store) ListGroupRegisteredModelRegexGrants(ctx context.Context, group string) ([]store.RegexGrant, error) {
	return s.listRegex(s.groupRegex[store.KindRegisteredModel], group)
}

// GetPromptGrant returns the user's exact grant on a prompt.
func (s *Store) GetPromptGrant(ctx context.Context, name, username string) (*store.Grant, error) {
	return s.getExact(s.exact[store.KindPrompt], name, username)
}

// ListPromptRegexGrants returns the user's regex grants on prompts.
func (s *Store) ListPromptRegexGrants(ctx context.Context, username string) ([]store.RegexGrant, error) {
	return s.listRegex(s.regex[store.KindPrompt], username)
}

// GetGroupPromptGrant returns the group's exact grant on a prompt.
func (s *Store) GetGroupPromptGrant(ctx context.Context, name, group string) (*store.Grant, error) {
	return s.getExact(s.groupExact[store.KindPrompt], name, group)
}

// ListGroupPromptRegexGrants returns the group's regex grants on prompts.
func (s *Store) ListGroupPromptRegexGrants(ctx context.Context, group string) ([]store.RegexGrant, error) {
	return s.listRegex(s.groupRegex[store.KindPrompt], group)
}
