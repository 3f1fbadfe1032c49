//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package groups provides pluggable group-detection strategies.
//
// By default, group membership is read from the bearer token's configured
// claims attribute. Deployments whose provider does not emit group claims
// can select a [Resolver] by name via the oidc.groupdetectionplugin
// configuration key. Resolvers are registered in an explicit registry at
// startup; there is no call-time dynamic loading.
//
// The built-in "static" resolver reads a YAML username-to-groups mapping
// file. Custom resolvers register themselves via [Register], typically from
// an init function or during process bootstrap.
package groups

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// Resolver determines the group memberships for an authenticated bearer
// token. The raw token is passed through untouched so that resolvers may
// call out to a provider API with it.
type Resolver interface {
	ResolveGroups(ctx context.Context, rawToken string) ([]string, error)
}

// FactoryFunc creates a configured Resolver instance.
type FactoryFunc func() (Resolver, error)

var (
	mu       sync.RWMutex
	registry = make(map[string]FactoryFunc)
)

// Register makes a resolver factory selectable by name. Registering the
// same name twice replaces the earlier factory.
func Register(name string, factory FactoryFunc) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = factory
}

// New instantiates the resolver registered under name.
func New(name string) (Resolver, error) {
	mu.RLock()
	factory, ok := registry[name]
	mu.RUnlock()
	if !ok {
		return nil, errors.Errorf("no group resolver registered under '%s'", name)
	}
	return factory()
}

// Names returns the registered resolver names.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	return names
}
