package config

import (
	"encoding/json"
	"os"

	"github.com/mkorchagin/praylock/internal/flagx"
	"github.com/mkorchagin/praylock/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON
// unmarshalling. It uses timex.Duration for interval fields, which allows
// parsing both string values such as "60s" and integer nanoseconds.
//
// This struct is an intermediate DTO used only for reading JSON
// configuration files. After unmarshalling, its fields are copied into the
// runtime Config struct which uses time.Duration.
type JsonConfig struct {
	EndpointAddrHTTP   string         `json:"endpoint_addr_http"`
	DatabaseDSN        string         `json:"database_dsn"`
	MasterKeyHex       string         `json:"master_key_hex"`
	AdminJWTSecret     string         `json:"admin_jwt_secret"`
	LockoutThreshold   int            `json:"lockout_threshold"`
	LockoutWindow      timex.Duration `json:"lockout_window"`
	SessionWindow      timex.Duration `json:"session_window"`
	SessionMaxLifetime timex.Duration `json:"session_max_lifetime"`
	SweepInterval      timex.Duration `json:"sweep_interval"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance. The file path comes from the -c or -config command-line
// flags; if neither is set, no JSON file is loaded. If the file cannot be
// read or contains invalid JSON, the function panics.
func parseJson(config *Config) {

	// try flags
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	if err := json.Unmarshal(data, c); err != nil {
		panic(err)
	}

	if c.EndpointAddrHTTP != "" {
		config.EndpointAddrHTTP = c.EndpointAddrHTTP
	}
	if c.DatabaseDSN != "" {
		config.DatabaseDSN = c.DatabaseDSN
	}
	if c.MasterKeyHex != "" {
		config.MasterKeyHex = c.MasterKeyHex
	}
	if c.AdminJWTSecret != "" {
		config.AdminJWTSecret = c.AdminJWTSecret
	}
	if c.LockoutThreshold != 0 {
		config.LockoutThreshold = c.LockoutThreshold
	}
	if c.LockoutWindow.Duration != 0 {
		config.LockoutWindow = c.LockoutWindow.Duration
	}
	if c.SessionWindow.Duration != 0 {
		config.SessionWindow = c.SessionWindow.Duration
	}
	if c.SessionMaxLifetime.Duration != 0 {
		config.SessionMaxLifetime = c.SessionMaxLifetime.Duration
	}
	if c.SweepInterval.Duration != 0 {
		config.SweepInterval = c.SweepInterval.Duration
	}
}
