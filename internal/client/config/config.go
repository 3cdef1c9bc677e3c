package config

import "time"

// Config holds runtime settings for the tourkeeper client.
//
// Units: OnlineCheckInterval and ApplyTimeout are time.Duration values.
type Config struct {
	ServerEndpointAddr  string
	OnlineCheckInterval time.Duration
	DatabasePath        string
	NotifyAddr          string
	LogFile             string
	SecretKey           string
	MaxRetries          int
	CoalesceUpdates     bool
	EventLogCapacity    int
	ApplyTimeout        time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "127.0.0.1:50051"
	c.OnlineCheckInterval = 3 * time.Second
	c.DatabasePath = "tourkeeper.db"
	c.NotifyAddr = ""
	c.LogFile = "tourkeeper.log"
	c.SecretKey = "secretKey"
	c.MaxRetries = 3
	c.CoalesceUpdates = false
	c.EventLogCapacity = 100
	c.ApplyTimeout = 10 * time.Second
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// a config file (if present) and command-line flags (if present). Later
// sources take precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseFile(cfg)
	parseFlags(cfg)
	return cfg
}
