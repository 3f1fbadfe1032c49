//
//  Copyright © Manetu Inc. All rights reserved.
//

package permissions

import (
	"testing"

	"github.com/manetu/trackauth/pkg/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetFlagTable(t *testing.T) {
	cases := []struct {
		name                             string
		read, update, deleteFlag, manage bool
		priority                         int
	}{
		{"READ", true, false, false, false, 1},
		{"EDIT", true, true, false, false, 2},
		{"MANAGE", true, true, true, true, 3},
		{"NO_PERMISSIONS", false, false, false, false, 100},
	}

	for _, tc := range cases {
		p, err := Get(tc.name)
		require.NoError(t, err, tc.name)
		assert.Equal(t, tc.read, p.CanRead, tc.name)
		assert.Equal(t, tc.update, p.CanUpdate, tc.name)
		assert.Equal(t, tc.deleteFlag, p.CanDelete, tc.name)
		assert.Equal(t, tc.manage, p.CanManage, tc.name)
		assert.Equal(t, tc.priority, p.Priority, tc.name)
	}
}

func TestGetUnrecognizedName(t *testing.T) {
	_, err := Get("SUPERUSER")
	require.Error(t, err)
	assert.True(t, common.IsCode(err, common.CodeInvalidPermission))
}

func TestCompareTotalOrder(t *testing.T) {
	names := []string{"READ", "EDIT", "MANAGE", "NO_PERMISSIONS"}

	// reflexive
	for _, n := range names {
		ok, err := Compare(n, n)
		require.NoError(t, err)
		assert.True(t, ok, n)
	}

	// consistent with the fixed priorities, and transitive across the chain
	for i := range names {
		for j := range names {
			ok, err := Compare(names[i], names[j])
			require.NoError(t, err)
			assert.Equal(t, i <= j, ok, "%s vs %s", names[i], names[j])
		}
	}
}

func TestCompareUnrecognizedName(t *testing.T) {
	_, err := Compare("READ", "WRITE")
	assert.True(t, common.IsCode(err, common.CodeInvalidPermission))

	_, err = Compare("WRITE", "READ")
	assert.True(t, common.IsCode(err, common.CodeInvalidPermission))
}

func TestCapabilityFlags(t *testing.T) {
	assert.True(t, Manage.Allows(CapabilityManage))
	assert.True(t, Edit.Allows(CapabilityUpdate))
	assert.False(t, Edit.Allows(CapabilityDelete))
	assert.True(t, Read.Allows(CapabilityRead))
	assert.False(t, NoPermissions.Allows(CapabilityRead))
}

func TestCapabilityString(t *testing.T) {
	assert.Equal(t, "can_manage", CapabilityManage.String())
	assert.Equal(t, "can_read", CapabilityRead.String())
}
