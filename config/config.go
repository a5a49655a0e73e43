package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the node configuration loaded from the TOML file handed to
// termlendd. Missing files are created with defaults so a fresh checkout
// boots without manual setup.
type Config struct {
	RPCAddress  string `toml:"RPCAddress"`
	DataDir     string `toml:"DataDir"`
	GenesisFile string `toml:"GenesisFile"`
	NetworkName string `toml:"NetworkName"`

	// ClockIntervalSeconds drives the ledger clock ticker. Every tick the
	// daemon stamps the engine with the current wall time.
	ClockIntervalSeconds uint64 `toml:"ClockIntervalSeconds"`

	RPCReadHeaderTimeout int     `toml:"RPCReadHeaderTimeout"`
	RPCReadTimeout       int     `toml:"RPCReadTimeout"`
	RPCWriteTimeout      int     `toml:"RPCWriteTimeout"`
	RPCIdleTimeout       int     `toml:"RPCIdleTimeout"`
	RPCTLSCertFile       string  `toml:"RPCTLSCertFile"`
	RPCTLSKeyFile        string  `toml:"RPCTLSKeyFile"`
	RPCRatePerSecond     float64 `toml:"RPCRatePerSecond"`
	RPCRateBurst         int     `toml:"RPCRateBurst"`

	Auth      AuthConfig      `toml:"auth"`
	Journal   JournalConfig   `toml:"journal"`
	Log       LogConfig       `toml:"log"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// AuthConfig configures bearer-token authentication for mutating RPC
// methods. The secret may be supplied inline, from a file, or from an
// environment variable; the environment wins, then the file, then the
// inline value. An empty resolved secret disables authentication.
type AuthConfig struct {
	Secret           string `toml:"Secret"`
	SecretFile       string `toml:"SecretFile"`
	SecretEnv        string `toml:"SecretEnv"`
	Issuer           string `toml:"Issuer"`
	Audience         string `toml:"Audience"`
	ClockSkewSeconds int    `toml:"ClockSkewSeconds"`
}

// JournalConfig points the operation journal at its sqlite file. An empty
// path derives the location from DataDir.
type JournalConfig struct {
	Path     string `toml:"Path"`
	Disabled bool   `toml:"Disabled"`
}

// LogConfig selects the log level and an optional rotating file sink in
// addition to stdout.
type LogConfig struct {
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
	Compress   bool   `toml:"Compress"`
}

// TelemetryConfig enables the OTLP exporters. Headers uses the standard
// comma-separated key=value form.
type TelemetryConfig struct {
	Enabled     bool   `toml:"Enabled"`
	Endpoint    string `toml:"Endpoint"`
	Insecure    bool   `toml:"Insecure"`
	Headers     string `toml:"Headers"`
	Environment string `toml:"Environment"`
	Traces      bool   `toml:"Traces"`
	Metrics     bool   `toml:"Metrics"`
}

const (
	defaultRPCAddress           = ":8545"
	defaultDataDir              = "./termlend-data"
	defaultNetworkName          = "termlend-local"
	defaultClockInterval        = 15
	defaultRPCReadHeaderTimeout = 5
	defaultRPCReadTimeout       = 15
	defaultRPCWriteTimeout      = 15
	defaultRPCIdleTimeout       = 60
	defaultRPCRatePerSecond     = 50
	defaultRPCRateBurst         = 100
	defaultAuthClockSkew        = 120
	defaultLogLevel             = "info"
	defaultLogMaxSizeMB         = 100
	defaultLogMaxBackups        = 5
	defaultLogMaxAgeDays        = 28
	defaultJournalFile          = "journal.db"
)

// Load reads the configuration at path, creating a default file when none
// exists. Unknown keys are rejected so typos surface at boot instead of
// silently falling back to defaults.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, key := range undecoded {
			keys[i] = key.String()
		}
		return nil, fmt.Errorf("config file %s contains unknown keys: %s", path, strings.Join(keys, ", "))
	}

	cfg.applyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = defaultRPCAddress
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = defaultDataDir
	}
	if strings.TrimSpace(c.NetworkName) == "" {
		c.NetworkName = defaultNetworkName
	}
	if c.ClockIntervalSeconds == 0 {
		c.ClockIntervalSeconds = defaultClockInterval
	}
	if c.RPCReadHeaderTimeout == 0 {
		c.RPCReadHeaderTimeout = defaultRPCReadHeaderTimeout
	}
	if c.RPCReadTimeout == 0 {
		c.RPCReadTimeout = defaultRPCReadTimeout
	}
	if c.RPCWriteTimeout == 0 {
		c.RPCWriteTimeout = defaultRPCWriteTimeout
	}
	if c.RPCIdleTimeout == 0 {
		c.RPCIdleTimeout = defaultRPCIdleTimeout
	}
	if c.RPCRatePerSecond == 0 {
		c.RPCRatePerSecond = defaultRPCRatePerSecond
	}
	if c.RPCRateBurst == 0 {
		c.RPCRateBurst = defaultRPCRateBurst
	}
	if c.Auth.ClockSkewSeconds == 0 {
		c.Auth.ClockSkewSeconds = defaultAuthClockSkew
	}
	if strings.TrimSpace(c.Journal.Path) == "" {
		c.Journal.Path = filepath.Join(c.DataDir, defaultJournalFile)
	}
	if strings.TrimSpace(c.Log.Level) == "" {
		c.Log.Level = defaultLogLevel
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = defaultLogMaxSizeMB
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = defaultLogMaxBackups
	}
	if c.Log.MaxAgeDays == 0 {
		c.Log.MaxAgeDays = defaultLogMaxAgeDays
	}
}

// ResolveSecret returns the effective bearer secret for mutating RPC
// methods, or an empty string when authentication is disabled.
func (a AuthConfig) ResolveSecret() (string, error) {
	if env := strings.TrimSpace(a.SecretEnv); env != "" {
		if value := strings.TrimSpace(os.Getenv(env)); value != "" {
			return value, nil
		}
	}
	if file := strings.TrimSpace(a.SecretFile); file != "" {
		raw, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read auth secret file: %w", err)
		}
		if value := strings.TrimSpace(string(raw)); value != "" {
			return value, nil
		}
	}
	return strings.TrimSpace(a.Secret), nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:  defaultRPCAddress,
		DataDir:     defaultDataDir,
		GenesisFile: "",
		NetworkName: defaultNetworkName,
	}
	cfg.applyDefaults()

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
