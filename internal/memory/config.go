package memory

import "time"

// Config holds Manager limits.
type Config struct {
	// MaxMemoryAge bounds how old a record returned by RetrieveMemories may be.
	MaxMemoryAge time.Duration
	// MaxResults caps the search window of RetrieveMemories.
	MaxResults int
	// DefaultLimit is used when a caller passes a non-positive limit.
	DefaultLimit int
}

// DefaultConfig returns the standard limits: 30 days, 100 results, limit 10.
func DefaultConfig() Config {
	return Config{
		MaxMemoryAge: 30 * 24 * time.Hour,
		MaxResults:   100,
		DefaultLimit: 10,
	}
}

// withDefaults fills zero fields from DefaultConfig so partial configs
// only override what they set.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxMemoryAge <= 0 {
		c.MaxMemoryAge = d.MaxMemoryAge
	}
	if c.MaxResults <= 0 {
		c.MaxResults = d.MaxResults
	}
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = d.DefaultLimit
	}
	return c
}
