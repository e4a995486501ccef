// Package config defines the server's already-parsed configuration
// values. Per spec.md's Non-goals the core never loads XML configuration
// files itself; cmd/obixd is the only place that turns flags into a
// Config.
package config

import "time"

// Config mirrors §6.2's configuration keys plus §6.3's on-disk resource
// layout.
type Config struct {
	LogLevel      string
	ListenSocket  string
	ListenBacklog int
	MultiThreads  int
	PollThreads   int

	DevTableSize    int
	DevCacheSize    int
	DevBackupPeriod time.Duration

	// ResourceRoot is <res>; CoreDir/SysDir/DevicesDir/HistoriesDir are
	// derived from it unless overridden.
	ResourceRoot string
	CoreDir      string
	SysDir       string
	DevicesDir   string
	HistoriesDir string
}

// WithDefaults fills in any zero-valued derived directories from
// ResourceRoot and returns the result.
func (c Config) WithDefaults() Config {
	if c.CoreDir == "" {
		c.CoreDir = c.ResourceRoot + "/core"
	}
	if c.SysDir == "" {
		c.SysDir = c.ResourceRoot + "/sys"
	}
	if c.DevicesDir == "" {
		c.DevicesDir = c.ResourceRoot + "/devices"
	}
	if c.HistoriesDir == "" {
		c.HistoriesDir = c.ResourceRoot + "/histories"
	}
	if c.DevBackupPeriod == 0 {
		c.DevBackupPeriod = 30 * time.Second
	}
	if c.PollThreads == 0 {
		c.PollThreads = 10
	}
	return c
}
