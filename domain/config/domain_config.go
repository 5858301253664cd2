package config

// DomainConfig holds the business rules enforced by every tenant graph
type DomainConfig struct {
	// Graph constraints
	MaxNodes        int
	MaxEdgesPerNode int

	// Query defaults
	DefaultSearchLimit int
	DefaultDepth       int
}

// DefaultDomainConfig returns the default domain configuration
func DefaultDomainConfig() *DomainConfig {
	return &DomainConfig{
		MaxNodes:           10000,
		MaxEdgesPerNode:    100,
		DefaultSearchLimit: 50,
		DefaultDepth:       1,
	}
}

// WithDefaults fills zero fields from DefaultDomainConfig. A nil receiver
// yields the defaults.
func (c *DomainConfig) WithDefaults() *DomainConfig {
	defaults := DefaultDomainConfig()
	if c == nil {
		return defaults
	}

	out := *c
	if out.MaxNodes <= 0 {
		out.MaxNodes = defaults.MaxNodes
	}
	if out.MaxEdgesPerNode <= 0 {
		out.MaxEdgesPerNode = defaults.MaxEdgesPerNode
	}
	if out.DefaultSearchLimit <= 0 {
		out.DefaultSearchLimit = defaults.DefaultSearchLimit
	}
	if out.DefaultDepth <= 0 {
		out.DefaultDepth = defaults.DefaultDepth
	}
	return &out
}
