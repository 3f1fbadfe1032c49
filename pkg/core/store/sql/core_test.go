//
//  Copyright © Manetu Inc. All rights reserved.
//

package sql

import (
	"context"
	"testing"

	"github.com/manetu/trackauth/pkg/common"
	"github.com/manetu/trackauth/pkg/core/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	s, err := Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUserLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, "alice@example.com", "Alice", false, "hunter2"))

	u, err := s.GetUser(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Alice", u.DisplayName)
	assert.False(t, u.IsAdmin)

	// upsert flips the admin flag without losing the password
	require.NoError(t, s.CreateUser(ctx, "alice@example.com", "Alice", true, ""))
	u, err = s.GetUser(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.True(t, u.IsAdmin)

	ok, err := s.AuthenticateUser(ctx, "alice@example.com", "hunter2")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.AuthenticateUser(ctx, "alice@example.com", "wrong")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.AuthenticateUser(ctx, "nobody@example.com", "hunter2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetUserNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetUser(context.Background(), "ghost@example.com")
	assert.True(t, common.IsCode(err, common.CodeNotFound))
}

func TestGroupMembership(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, "bob@example.com", "Bob", false, ""))
	require.NoError(t, s.PopulateGroups(ctx, []string{"eng", "science"}))
	require.NoError(t, s.PopulateGroups(ctx, []string{"eng"})) // idempotent

	require.NoError(t, s.UpdateUserGroups(ctx, "bob@example.com", []string{"eng", "science"}))
	groups, err := s.GetGroupsForUser(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"eng", "science"}, groups)

	// replacement semantics
	require.NoError(t, s.UpdateUserGroups(ctx, "bob@example.com", []string{"science"}))
	groups, err = s.GetGroupsForUser(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"science"}, groups)
}

func TestGrantRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertGrant(ctx, store.KindExperiment, "42", "alice@example.com", false, "EDIT"))
	require.NoError(t, s.UpsertGrant(ctx, store.KindExperiment, "42", "eng", true, "MANAGE"))

	g, err := s.GetExperimentGrant(ctx, "42", "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "EDIT", g.Permission)

	g, err = s.GetGroupExperimentGrant(ctx, "42", "eng")
	require.NoError(t, err)
	assert.Equal(t, "MANAGE", g.Permission)

	// user and group grants on the same id do not shadow each other
	_, err = s.GetExperimentGrant(ctx, "42", "eng")
	assert.True(t, common.IsCode(err, common.CodeResourceDoesNotExist))

	// upsert replaces the permission
	require.NoError(t, s.UpsertGrant(ctx, store.KindExperiment, "42", "alice@example.com", false, "MANAGE"))
	g, err = s.GetExperimentGrant(ctx, "42", "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "MANAGE", g.Permission)
}

func TestDeleteGrant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertGrant(ctx, store.KindExperiment, "42", "alice@example.com", false, "EDIT"))
	require.NoError(t, s.DeleteGrant(ctx, store.KindExperiment, "42", "alice@example.com", false))

	_, err := s.GetExperimentGrant(ctx, "42", "alice@example.com")
	assert.True(t, common.IsCode(err, common.CodeResourceDoesNotExist))

	// deleting a grant that is not stored reports the same signal
	err = s.DeleteGrant(ctx, store.KindExperiment, "42", "alice@example.com", false)
	assert.True(t, common.IsCode(err, common.CodeResourceDoesNotExist))
}

func TestDeleteRegexGrant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertRegexGrant(ctx, store.KindPrompt, "^team-.*", "eng", true, "EDIT"))
	require.NoError(t, s.DeleteRegexGrant(ctx, store.KindPrompt, "^team-.*", "eng", true))

	grants, err := s.ListGroupPromptRegexGrants(ctx, "eng")
	require.NoError(t, err)
	assert.Empty(t, grants)

	err = s.DeleteRegexGrant(ctx, store.KindPrompt, "^team-.*", "eng", true)
	assert.True(t, common.IsCode(err, common.CodeResourceDoesNotExist))
}

func TestMissingGrantSignalsResourceDoesNotExist(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetPromptGrant(context.Background(), "greeting", "alice@example.com")
	assert.True(t, common.IsCode(err, common.CodeResourceDoesNotExist))
}

func TestRegexGrants(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertRegexGrant(ctx, store.KindRegisteredModel, "^team-a-.*", "alice@example.com", false, "EDIT"))
	require.NoError(t, s.UpsertRegexGrant(ctx, store.KindRegisteredModel, "^team-b-.*", "alice@example.com", false, "READ"))

	grants, err := s.ListRegisteredModelRegexGrants(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Len(t, grants, 2)

	grants, err = s.ListGroupRegisteredModelRegexGrants(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Empty(t, grants)
}
