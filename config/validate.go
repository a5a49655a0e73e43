package config

import (
	"fmt"
	"strings"
)

var logLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

// Validate checks the loaded configuration for values the daemon cannot
// start with.
func Validate(c *Config) error {
	if strings.TrimSpace(c.RPCAddress) == "" {
		return fmt.Errorf("RPCAddress must not be empty")
	}
	if c.ClockIntervalSeconds == 0 {
		return fmt.Errorf("ClockIntervalSeconds must be positive")
	}
	if c.RPCReadHeaderTimeout < 0 || c.RPCReadTimeout < 0 || c.RPCWriteTimeout < 0 || c.RPCIdleTimeout < 0 {
		return fmt.Errorf("rpc timeouts must not be negative")
	}
	if (c.RPCTLSCertFile == "") != (c.RPCTLSKeyFile == "") {
		return fmt.Errorf("rpc tls: cert and key must be configured together")
	}
	if c.RPCRatePerSecond < 0 {
		return fmt.Errorf("RPCRatePerSecond must not be negative")
	}
	if c.RPCRateBurst < 0 {
		return fmt.Errorf("RPCRateBurst must not be negative")
	}
	if c.Auth.ClockSkewSeconds < 0 {
		return fmt.Errorf("auth: ClockSkewSeconds must not be negative")
	}
	if _, ok := logLevels[strings.ToLower(strings.TrimSpace(c.Log.Level))]; !ok {
		return fmt.Errorf("log: unknown level %q", c.Log.Level)
	}
	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 || c.Log.MaxAgeDays < 0 {
		return fmt.Errorf("log: rotation limits must not be negative")
	}
	if c.Telemetry.Enabled && strings.TrimSpace(c.Telemetry.Endpoint) == "" {
		return fmt.Errorf("telemetry: Endpoint required when enabled")
	}
	return nil
}
