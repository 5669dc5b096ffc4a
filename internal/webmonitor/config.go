package webmonitor

import (
	"time"
)

// Config defines the runtime configuration for the web monitor server.
type Config struct {
	Addr string
	// AssetsDir overrides the built-in page assets when it holds a file of
	// the requested name.
	AssetsDir         string
	KeepaliveInterval time.Duration
	MJPEGInterval     time.Duration
	JPEGQuality       int
}

// DefaultConfig returns the built-in server settings.
func DefaultConfig() Config {
	return Config{
		Addr:              ":8080",
		AssetsDir:         "",
		KeepaliveInterval: 15 * time.Second,
		MJPEGInterval:     33 * time.Millisecond,
		JPEGQuality:       80,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Addr == "" {
		c.Addr = def.Addr
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = def.KeepaliveInterval
	}
	if c.MJPEGInterval <= 0 {
		c.MJPEGInterval = def.MJPEGInterval
	}
	if c.JPEGQuality <= 0 || c.JPEGQuality > 100 {
		c.JPEGQuality = def.JPEGQuality
	}
	return c
}
