//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package core implements the permission resolution engine.
//
// Resolution walks a fixed precedence ladder and stops at the first tier
// that produces a permission:
//
//  1. the user's exact grant on the resource
//  2. the user's regex grants, matched against the resource id
//  3. the user's groups' exact grants, then their regex grants
//  4. the configured fallback permission
//
// An absent grant is signalled by the store with RESOURCE_DOES_NOT_EXIST and
// falls through to the next tier; any other store failure aborts resolution.
// Runs carry no grants of their own and resolve through their parent
// experiment.
package core

import (
	"context"
	"regexp"

	"github.com/manetu/trackauth/internal/logging"
	"github.com/manetu/trackauth/pkg/common"
	"github.com/manetu/trackauth/pkg/core/config"
	"github.com/manetu/trackauth/pkg/core/permissions"
	"github.com/manetu/trackauth/pkg/core/store"
	"github.com/manetu/trackauth/pkg/core/tracking"
	"github.com/pkg/errors"
)

var logger = logging.GetLogger("trackauth.core")

// Engine resolves effective permissions against the permission store and
// the tracking server.
type Engine struct {
	store    store.Service
	tracking tracking.Service
}

// NewEngine creates a resolution engine over the given gateways.
func NewEngine(svc store.Service, trk tracking.Service) *Engine {
	return &Engine{store: svc, tracking: trk}
}

// grantOps is the per-kind view of the store's grant surface.
type grantOps struct {
	getUser        func(ctx context.Context, resourceID, username string) (*store.Grant, error)
	listUserRegex  func(ctx context.Context, username string) ([]store.RegexGrant, error)
	getGroup       func(ctx context.Context, resourceID, group string) (*store.Grant, error)
	listGroupRegex func(ctx context.Context, group string) ([]store.RegexGrant, error)
}

func (e *Engine) ops(kind store.Kind) (grantOps, error) {
	switch kind {
	case store.KindExperiment:
		return grantOps{
			getUser:        e.store.GetExperimentGrant,
			listUserRegex:  e.store.ListExperimentRegexGrants,
			getGroup:       e.store.GetGroupExperimentGrant,
			listGroupRegex: e.store.ListGroupExperimentRegexGrants,
		}, nil
	case store.KindRegisteredModel:
		return grantOps{
			getUser:        e.store.GetRegisteredModelGrant,
			listUserRegex:  e.store.ListRegisteredModelRegexGrants,
			getGroup:       e.store.GetGroupRegisteredModelGrant,
			listGroupRegex: e.store.ListGroupRegisteredModelRegexGrants,
		}, nil
	case store.KindPrompt:
		return grantOps{
			getUser:        e.store.GetPromptGrant,
			listUserRegex:  e.store.ListPromptRegexGrants,
			getGroup:       e.store.GetGroupPromptGrant,
			listGroupRegex: e.store.ListGroupPromptRegexGrants,
		}, nil
	}
	return grantOps{}, errors.Errorf("unsupported resource kind '%s'", kind)
}

// ResolvePermission computes the effective permission for username on the
// given resource. memberships may be nil, in which case the user's groups
// are read from the store. Runs resolve through their parent experiment.
func (e *Engine) ResolvePermission(ctx context.Context, kind store.Kind, resourceID, username string, memberships []string) (*permissions.Result, error) {
	if kind == store.KindRun {
		run, err := e.tracking.GetRun(ctx, resourceID)
		if err != nil {
			return nil, err
		}
		kind, resourceID = store.KindExperiment, run.ExperimentID
	}

	ops, err := e.ops(kind)
	if err != nil {
		return nil, err
	}

	// Tier 1: the user's own grants.
	perm, found, err := e.userPermission(ctx, ops, resourceID, username)
	if err != nil {
		return nil, err
	}
	if found {
		logger.Debugf("%s on %s/%s: %s (user grant)", username, kind, resourceID, perm.Name)
		return &permissions.Result{Permission: perm, Tier: permissions.TierUser}, nil
	}

	// Tier 2: grants held by the user's groups.
	if memberships == nil {
		memberships, err = e.store.GetGroupsForUser(ctx, username)
		if err != nil && !common.IsNotFound(err) {
			return nil, err
		}
	}
	perm, found, err = e.groupPermission(ctx, ops, resourceID, memberships)
	if err != nil {
		return nil, err
	}
	if found {
		logger.Debugf("%s on %s/%s: %s (group grant)", username, kind, resourceID, perm.Name)
		return &permissions.Result{Permission: perm, Tier: permissions.TierGroup}, nil
	}

	// Tier 3: the configured fallback.
	perm, err = permissions.Get(config.VConfig.GetString(config.DefaultPermission))
	if err != nil {
		return nil, err
	}
	logger.Debugf("%s on %s/%s: %s (fallback)", username, kind, resourceID, perm.Name)
	return &permissions.Result{Permission: perm, Tier: permissions.TierFallback}, nil
}

func (e *Engine) userPermission(ctx context.Context, ops grantOps, resourceID, username string) (permissions.Permission, bool, error) {
	grant, err := ops.getUser(ctx, resourceID, username)
	switch {
	case err == nil:
		perm, err := permissions.Get(grant.Permission)
		return perm, err == nil, err
	case !common.IsCode(err, common.CodeResourceDoesNotExist):
		return permissions.Permission{}, false, err
	}

	grants, err := ops.listUserRegex(ctx, username)
	if err != nil {
		return permissions.Permission{}, false, err
	}
	return bestMatch(grants, resourceID)
}

func (e *Engine) groupPermission(ctx context.Context, ops grantOps, resourceID string, memberships []string) (permissions.Permission, bool, error) {
	var (
		best  permissions.Permission
		found bool
	)

	// Exact grants win over regex grants, so collect them first across all
	// of the user's groups, keeping the most permissive.
	for _, group := range memberships {
		grant, err := ops.getGroup(ctx, resourceID, group)
		if err != nil {
			if common.IsCode(err, common.CodeResourceDoesNotExist) {
				continue
			}
			return permissions.Permission{}, false, err
		}
		best, found, err = keepBest(best, found, grant.Permission)
		if err != nil {
			return permissions.Permission{}, false, err
		}
	}
	if found {
		return best, true, nil
	}

	for _, group := range memberships {
		grants, err := ops.listGroupRegex(ctx, group)
		if err != nil {
			return permissions.Permission{}, false, err
		}
		perm, matched, err := bestMatch(grants, resourceID)
		if err != nil {
			return permissions.Permission{}, false, err
		}
		if matched {
			best, found, err = keepBest(best, found, perm.Name)
			if err != nil {
				return permissions.Permission{}, false, err
			}
		}
	}
	return best, found, nil
}

// bestMatch returns the most permissive grant whose pattern matches the
// resource id. Patterns are anchored as written; a grant with a pattern that
// does not compile aborts resolution.
func bestMatch(grants []store.RegexGrant, resourceID string) (permissions.Permission, bool, error) {
	var (
		best  permissions.Permission
		found bool
	)
	for _, grant := range grants {
		re, err := regexp.Compile(grant.Pattern)
		if err != nil {
			return permissions.Permission{}, false, errors.Wrapf(err, "invalid grant pattern '%s'", grant.Pattern)
		}
		if !re.MatchString(resourceID) {
			continue
		}
		best, found, err = keepBest(best, found, grant.Permission)
		if err != nil {
			return permissions.Permission{}, false, err
		}
	}
	return best, found, nil
}

// keepBest folds candidate into the running most-permissive permission.
func keepBest(best permissions.Permission, found bool, candidate string) (permissions.Permission, bool, error) {
	perm, err := permissions.Get(candidate)
	if err != nil {
		return permissions.Permission{}, false, err
	}
	if !found || perm.Priority <= best.Priority {
		return perm, true, nil
	}
	return best, true, nil
}

// ExperimentIDForName resolves an experiment name to its id via the
// tracking server.
func (e *Engine) ExperimentIDForName(ctx context.Context, name string) (string, error) {
	exp, err := e.tracking.GetExperimentByName(ctx, name)
	if err != nil {
		return "", err
	}
	return exp.ExperimentID, nil
}
