//
//  Copyright © Manetu Inc. All rights reserved.
//

package core

import (
	"context"
	"testing"

	"github.com/manetu/trackauth/pkg/common"
	"github.com/manetu/trackauth/pkg/core/auth"
	"github.com/manetu/trackauth/pkg/core/config"
	"github.com/manetu/trackauth/pkg/core/options"
	"github.com/manetu/trackauth/pkg/core/permissions"
	"github.com/manetu/trackauth/pkg/core/store"
	"github.com/manetu/trackauth/pkg/core/store/fake"
	"github.com/manetu/trackauth/pkg/core/store/sql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuthorizer(t *testing.T) (Authorizer, *fake.Store) {
	t.Helper()
	config.ResetConfig()
	config.VConfig.Set(config.OIDCGroupNames, []string{"data-science"})
	config.VConfig.Set(config.OIDCAdminGroupName, "tracking-admins")
	t.Cleanup(config.ResetConfig)

	az, err := NewAuthorizer()
	require.NoError(t, err)
	return az, az.GetStore().(*fake.Store)
}

func TestAuthenticateBasicAndCheckAccess(t *testing.T) {
	az, st := newTestAuthorizer(t)
	st.AddUser("alice@example.com", "hunter2", false)
	st.SetGrant(store.KindExperiment, "7", "alice@example.com", "EDIT")

	identity, err := az.Authenticate(context.Background(), auth.Credentials{
		BasicUsername: "alice@example.com",
		BasicPassword: "hunter2",
	})
	require.NoError(t, err)

	assert.NoError(t, az.CheckAccess(context.Background(), identity, store.KindExperiment, "7", permissions.CapabilityUpdate))

	err = az.CheckAccess(context.Background(), identity, store.KindExperiment, "7", permissions.CapabilityManage)
	assert.True(t, common.IsCode(err, common.CodeForbidden))
}

func TestAdminBypassesResolution(t *testing.T) {
	az, st := newTestAuthorizer(t)
	st.AddUser("root@example.com", "secret", true)
	// an explicit denial that would block a regular user
	st.SetGrant(store.KindExperiment, "7", "root@example.com", "NO_PERMISSIONS")

	identity, err := az.Authenticate(context.Background(), auth.Credentials{
		BasicUsername: "root@example.com",
		BasicPassword: "secret",
	})
	require.NoError(t, err)
	require.True(t, identity.IsAdmin)

	for _, c := range []permissions.Capability{
		permissions.CapabilityRead,
		permissions.CapabilityUpdate,
		permissions.CapabilityDelete,
		permissions.CapabilityManage,
	} {
		assert.NoError(t, az.CheckAccess(context.Background(), identity, store.KindExperiment, "7", c))
	}
}

func TestFallbackDeniesWrites(t *testing.T) {
	az, st := newTestAuthorizer(t)
	st.AddUser("bob@example.com", "pw", false)

	identity, err := az.Authenticate(context.Background(), auth.Credentials{
		BasicUsername: "bob@example.com",
		BasicPassword: "pw",
	})
	require.NoError(t, err)

	// default fallback is READ
	assert.NoError(t, az.CheckAccess(context.Background(), identity, store.KindRegisteredModel, "m1", permissions.CapabilityRead))
	err = az.CheckAccess(context.Background(), identity, store.KindRegisteredModel, "m1", permissions.CapabilityUpdate)
	assert.True(t, common.IsCode(err, common.CodeForbidden))
}

func TestLoginAndLogout(t *testing.T) {
	az, _ := newTestAuthorizer(t)

	sess, err := az.Login(context.Background(), "Carol@Example.com", "Carol", []string{"data-science"})
	require.NoError(t, err)

	identity, err := az.Authenticate(context.Background(), auth.Credentials{SessionID: sess.ID})
	require.NoError(t, err)
	assert.Equal(t, "carol@example.com", identity.Username)

	az.Logout(sess.ID)
	_, err = az.Authenticate(context.Background(), auth.Credentials{SessionID: sess.ID})
	assert.True(t, common.IsCode(err, common.CodeInvalidCredentials))
}

func TestMockModeIgnoresConfiguredStore(t *testing.T) {
	config.ResetConfig()
	config.VConfig.Set(config.MockEnabled, true)
	t.Cleanup(config.ResetConfig)

	az, err := NewAuthorizer(options.WithStore(sql.NewFactory()))
	require.NoError(t, err)

	_, ok := az.GetStore().(*fake.Store)
	assert.True(t, ok)
}
