package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/tourkeeper/internal/flagx"
	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk form of Config. Zero values leave the current
// setting untouched.
type FileConfig struct {
	EndpointAddrGRPC string  `json:"endpoint_addr_grpc" yaml:"endpoint_addr_grpc"`
	DatabaseDSN      string  `json:"database_dsn" yaml:"database_dsn"`
	SecretKey        string  `json:"secret_key" yaml:"secret_key"`
	ApplyRateLimit   float64 `json:"apply_rate_limit" yaml:"apply_rate_limit"`
	ApplyBurst       int     `json:"apply_burst" yaml:"apply_burst"`
	ChangesPageLimit int     `json:"changes_page_limit" yaml:"changes_page_limit"`
}

// parseFile overlays the file named by -c/-config. The encoding follows the
// file extension (.yaml/.yml or JSON). A missing flag means no file; an
// unreadable or invalid file panics.
func parseFile(config *Config) {
	path := flagx.ConfigFileFlag(os.Args[1:])
	if path == "" {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	c := &FileConfig{}
	switch flagx.FormatOf(path) {
	case flagx.FormatYAML:
		err = yaml.Unmarshal(data, c)
	default:
		err = json.Unmarshal(data, c)
	}
	if err != nil {
		panic(err)
	}

	c.apply(config)
}

func (c *FileConfig) apply(config *Config) {
	if c.EndpointAddrGRPC != "" {
		config.EndpointAddrGRPC = c.EndpointAddrGRPC
	}
	if c.DatabaseDSN != "" {
		config.DatabaseDSN = c.DatabaseDSN
	}
	if c.SecretKey != "" {
		config.SecretKey = c.SecretKey
	}
	if c.ApplyRateLimit != 0 {
		config.ApplyRateLimit = c.ApplyRateLimit
	}
	if c.ApplyBurst != 0 {
		config.ApplyBurst = c.ApplyBurst
	}
	if c.ChangesPageLimit != 0 {
		config.ChangesPageLimit = c.ChangesPageLimit
	}
}
