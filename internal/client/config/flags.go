package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/tourkeeper/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-i", "-d", "-w", "-l", "-s", "-m", "-k"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerEndpointAddr, "a", cfg.ServerEndpointAddr, "address and port to access server")
	onlineCheckInterval := fs.Int("i", int(cfg.OnlineCheckInterval.Seconds()), "online check interval (in seconds)")
	fs.StringVar(&cfg.DatabasePath, "d", cfg.DatabasePath, "local database file")
	fs.StringVar(&cfg.NotifyAddr, "w", cfg.NotifyAddr, "websocket notification address")
	fs.StringVar(&cfg.LogFile, "l", cfg.LogFile, "log file")
	fs.StringVar(&cfg.SecretKey, "s", cfg.SecretKey, "shared secret")
	fs.IntVar(&cfg.MaxRetries, "m", cfg.MaxRetries, "attempts before an operation is parked")
	fs.BoolVar(&cfg.CoalesceUpdates, "k", cfg.CoalesceUpdates, "coalesce queued updates")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.OnlineCheckInterval = time.Duration(*onlineCheckInterval) * time.Second
}
