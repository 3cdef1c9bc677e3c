package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/tourkeeper/internal/flagx"
	"github.com/dmitrijs2005/tourkeeper/internal/timex"
	"gopkg.in/yaml.v3"
)

// FileConfig is a DTO used exclusively for file unmarshalling. Durations
// rely on timex.Duration. Zero values leave the current setting untouched,
// except CoalesceUpdates which is applied when present.
type FileConfig struct {
	ServerEndpointAddr  string         `json:"server_endpoint_addr" yaml:"server_endpoint_addr"`
	OnlineCheckInterval timex.Duration `json:"online_check_interval" yaml:"online_check_interval"`
	DatabasePath        string         `json:"database_path" yaml:"database_path"`
	NotifyAddr          string         `json:"notify_addr" yaml:"notify_addr"`
	LogFile             string         `json:"log_file" yaml:"log_file"`
	SecretKey           string         `json:"secret_key" yaml:"secret_key"`
	MaxRetries          int            `json:"max_retries" yaml:"max_retries"`
	CoalesceUpdates     *bool          `json:"coalesce_updates" yaml:"coalesce_updates"`
	EventLogCapacity    int            `json:"event_log_capacity" yaml:"event_log_capacity"`
	ApplyTimeout        timex.Duration `json:"apply_timeout" yaml:"apply_timeout"`
}

// parseFile overlays cfg with values loaded from the file passed via -c or
// -config. JSON is assumed unless the extension is .yaml or .yml. Panics on
// read or unmarshal errors.
func parseFile(cfg *Config) {
	path := flagx.ConfigFileFlag(os.Args[1:])
	if path == "" {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	var fc FileConfig
	if flagx.FormatOf(path) == flagx.FormatYAML {
		err = yaml.Unmarshal(data, &fc)
	} else {
		err = json.Unmarshal(data, &fc)
	}
	if err != nil {
		panic(err)
	}

	fc.apply(cfg)
}

func (fc *FileConfig) apply(cfg *Config) {
	setString := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, v int) {
		if v != 0 {
			*dst = v
		}
	}
	setDuration := func(dst *time.Duration, v timex.Duration) {
		if v.Duration != 0 {
			*dst = v.Duration
		}
	}

	setString(&cfg.ServerEndpointAddr, fc.ServerEndpointAddr)
	setDuration(&cfg.OnlineCheckInterval, fc.OnlineCheckInterval)
	setString(&cfg.DatabasePath, fc.DatabasePath)
	setString(&cfg.NotifyAddr, fc.NotifyAddr)
	setString(&cfg.LogFile, fc.LogFile)
	setString(&cfg.SecretKey, fc.SecretKey)
	setInt(&cfg.MaxRetries, fc.MaxRetries)
	setInt(&cfg.EventLogCapacity, fc.EventLogCapacity)
	setDuration(&cfg.ApplyTimeout, fc.ApplyTimeout)

	if fc.CoalesceUpdates != nil {
		cfg.CoalesceUpdates = *fc.CoalesceUpdates
	}
}
