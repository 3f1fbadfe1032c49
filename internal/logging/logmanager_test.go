//
//  Copyright © Manetu Inc. All rights reserved.
//

package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestGetLoggerReturnsSameInstance(t *testing.T) {
	resetForTesting()

	l1 := GetLogger("auth")
	l2 := GetLogger("auth")
	assert.Same(t, l1, l2)

	l3 := GetLogger("resolver")
	assert.NotSame(t, l1, l3)
}

func TestUpdateLogLevels(t *testing.T) {
	resetForTesting()

	l := GetLogger("token")
	assert.False(t, l.IsDebugEnabled())

	err := UpdateLogLevels("token:debug; .:warn")
	assert.NoError(t, err)
	assert.True(t, l.IsDebugEnabled())

	// default applies to modules without an explicit level
	other := GetLogger("store")
	assert.False(t, other.IsDebugEnabled())
	assert.True(t, other.IsLevelEnabled(zapcore.WarnLevel))
}

func TestUpdateLogLevelsIgnoresMalformedEntries(t *testing.T) {
	resetForTesting()

	err := UpdateLogLevels("garbage;also:bad:entry;.:debug")
	assert.NoError(t, err)
	assert.True(t, GetLogger("anything").IsDebugEnabled())
}

func TestLoggerOutput(t *testing.T) {
	resetForTesting()

	var buf bytes.Buffer
	l := GetLogger("guard")
	l.SetOut(&buf)

	l.Infof("denied %s on %s", "alice", "experiment-1")

	out := buf.String()
	assert.True(t, strings.Contains(out, "denied alice on experiment-1"))
	assert.True(t, strings.Contains(out, "guard"))
}
