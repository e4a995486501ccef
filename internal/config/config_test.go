package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWithDefaultsDerivesFromResourceRoot(t *testing.T) {
	assert := require.New(t)

	c := Config{ResourceRoot: "/var/obixd"}.WithDefaults()

	assert.Equal("/var/obixd/core", c.CoreDir)
	assert.Equal("/var/obixd/sys", c.SysDir)
	assert.Equal("/var/obixd/devices", c.DevicesDir)
	assert.Equal("/var/obixd/histories", c.HistoriesDir)
	assert.Equal(30*time.Second, c.DevBackupPeriod)
	assert.Equal(10, c.PollThreads)
}

func TestWithDefaultsPreservesExplicitOverrides(t *testing.T) {
	assert := require.New(t)

	c := Config{
		ResourceRoot: "/var/obixd",
		CoreDir:      "/elsewhere/core",
		PollThreads:  4,
	}.WithDefaults()

	assert.Equal("/elsewhere/core", c.CoreDir)
	assert.Equal("/var/obixd/sys", c.SysDir)
	assert.Equal(4, c.PollThreads)
}
