//
//  Copyright © Manetu Inc. All rights reserved.
//

package groups

import (
	"context"
	"os"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/manetu/trackauth/pkg/core/config"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// StaticResolver resolves groups from a YAML mapping file of the form:
//
//	alice@example.com: [data-science, tracking-admins]
//	bob@example.com: [data-science]
//
// Usernames are matched case-insensitively against the token's email claim.
type StaticResolver struct {
	mapping map[string][]string
}

func init() {
	Register("static", func() (Resolver, error) {
		return NewStaticResolver(config.VConfig.GetString(config.GroupStaticMappingPath))
	})
}

// NewStaticResolver loads the mapping file at path.
func NewStaticResolver(path string) (*StaticResolver, error) {
	if path == "" {
		return nil, errors.New("static group resolver requires groups.staticmapping to be set")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading group mapping %s", path)
	}

	mapping := make(map[string][]string)
	if err := yaml.Unmarshal(raw, &mapping); err != nil {
		return nil, errors.Wrapf(err, "parsing group mapping %s", path)
	}

	normalized := make(map[string][]string, len(mapping))
	for user, groups := range mapping {
		normalized[strings.ToLower(user)] = groups
	}
	return &StaticResolver{mapping: normalized}, nil
}

// ResolveGroups extracts the email claim from the (already validated) token
// and looks it up in the mapping. Unknown users resolve to no groups.
func (r *StaticResolver) ResolveGroups(_ context.Context, rawToken string) ([]string, error) {
	tok, err := jwt.Parse([]byte(rawToken), jwt.WithVerify(false), jwt.WithValidate(false))
	if err != nil {
		return nil, errors.Wrap(err, "parsing token for group mapping")
	}
	email, _ := tok.PrivateClaims()["email"].(string)
	if email == "" {
		return nil, nil
	}
	return r.mapping[strings.ToLower(email)], nil
}
