package config

import (
	"flag"
	"os"
	"time"

	"github.com/mkorchagin/praylock/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-d string   PostgreSQL DSN
//	-m string   operator master key, hex-encoded 32 bytes
//	-j string   admin JWT HMAC secret
//	-n int      lockout threshold (consecutive failures)
//	-w int      lockout window, seconds
//	-t int      session inactivity window, minutes
//	-l int      session absolute lifetime cap, hours
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components. Duration
// flags are accepted as integers and converted to time.Duration values.
func parseFlags(config *Config) {
	// Filter args to include only the flags handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-m", "-j", "-n", "-w", "-t", "-l"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.MasterKeyHex, "m", config.MasterKeyHex, "master key (hex)")
	fs.StringVar(&config.AdminJWTSecret, "j", config.AdminJWTSecret, "admin JWT secret")

	fs.IntVar(&config.LockoutThreshold, "n", config.LockoutThreshold, "lockout threshold (failures)")
	lockoutWindow := fs.Int("w", int(config.LockoutWindow.Seconds()), "lockout window (in seconds)")
	sessionWindow := fs.Int("t", int(config.SessionWindow.Minutes()), "session inactivity window (in minutes)")
	sessionCap := fs.Int("l", int(config.SessionMaxLifetime.Hours()), "session lifetime cap (in hours)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.LockoutWindow = time.Duration(*lockoutWindow) * time.Second
	config.SessionWindow = time.Duration(*sessionWindow) * time.Minute
	config.SessionMaxLifetime = time.Duration(*sessionCap) * time.Hour
}
