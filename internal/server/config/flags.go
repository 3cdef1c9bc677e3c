package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/tourkeeper/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   gRPC bind address (e.g., ":50051")
//	-d string   PostgreSQL DSN, empty for in-memory records
//	-s string   JWT HMAC secret key
//	-r float    Apply calls per second allowed per actor
//	-b int      Apply burst per actor
//	-l int      maximum changes per Changes call
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-s", "-r", "-b", "-l"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrGRPC, "a", config.EndpointAddrGRPC, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.Float64Var(&config.ApplyRateLimit, "r", config.ApplyRateLimit, "apply calls per second per actor")
	fs.IntVar(&config.ApplyBurst, "b", config.ApplyBurst, "apply burst per actor")
	fs.IntVar(&config.ChangesPageLimit, "l", config.ChangesPageLimit, "maximum changes per page")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
