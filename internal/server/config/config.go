// Package config handles configuration for the server component,
// including defaults, a JSON or YAML file overlay, and command-line flags.
package config

// Config holds runtime settings for the sync server.
//
// Fields:
//   - EndpointAddrGRPC: bind address for the gRPC endpoint.
//   - DatabaseDSN: PostgreSQL DSN (pgx). Empty keeps records in memory.
//   - SecretKey: HMAC secret shared with clients for HS256 access tokens.
//   - ApplyRateLimit / ApplyBurst: per-actor token bucket for Apply calls.
//   - ChangesPageLimit: upper bound on changes returned by one call.
type Config struct {
	EndpointAddrGRPC string
	DatabaseDSN      string
	SecretKey        string
	ApplyRateLimit   float64
	ApplyBurst       int
	ChangesPageLimit int
}

// LoadDefaults populates Config with development defaults.
// NOTE: the secret must be overridden outside development.
func (c *Config) LoadDefaults() {
	c.EndpointAddrGRPC = ":50051"
	c.DatabaseDSN = ""
	c.SecretKey = "secretKey"
	c.ApplyRateLimit = 20
	c.ApplyBurst = 40
	c.ChangesPageLimit = 500
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional config file and finally from command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseFile(cfg)
	parseFlags(cfg)
	return cfg
}
