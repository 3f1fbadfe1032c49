//
//  Copyright © Manetu Inc. All rights reserved.
//

package common

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestAuthErrorFormatting(t *testing.T) {
	err := NewError(CodeForbidden, "insufficient capability")

	assert.Contains(t, err.Error(), "insufficient capability")
	assert.Contains(t, err.Error(), CodeForbidden)
}

func TestIsCodeUnwraps(t *testing.T) {
	base := NewErrorf(CodeResourceDoesNotExist, "no grant for %s", "experiment-7")
	wrapped := errors.Wrap(base, "resolving experiment permission")

	assert.True(t, IsCode(wrapped, CodeResourceDoesNotExist))
	assert.False(t, IsCode(wrapped, CodeForbidden))
	assert.True(t, IsNotFound(wrapped))
}

func TestIsCodeOnForeignError(t *testing.T) {
	assert.False(t, IsCode(errors.New("plain"), CodeNotFound))
	assert.False(t, IsNotFound(nil))
}
