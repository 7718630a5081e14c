package config

import (
	"flag"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds configuration for the driftserv binary.
type ServerConfig struct {
	Addr        string
	LogLevel    string
	DatabaseURL string // Postgres connection string; empty means in-memory store
}

// ClientConfig holds configuration for the driftpay wallet binary.
type ClientConfig struct {
	ServerURL   string
	LogLevel    string
	Email       string
	DataDir     string   // device database directory
	STUNServers []string // repeatable --stun flag; empty means built-in defaults
}

// fileConfig is the optional YAML config file's shape. Values from the file
// sit below environment variables and flags in precedence.
type fileConfig struct {
	ServerURL   string   `yaml:"server_url"`
	LogLevel    string   `yaml:"log_level"`
	Email       string   `yaml:"email"`
	DataDir     string   `yaml:"data_dir"`
	STUNServers []string `yaml:"stun_servers"`
}

// ParseServerConfig parses server configuration from flags and environment
// variables. Flags take precedence over environment variables.
// Defaults: addr=":8080", logLevel="info", in-memory store.
func ParseServerConfig() ServerConfig {
	return parseServerConfigWithFlagSet(flag.CommandLine, os.Args[1:])
}

// parseServerConfigWithFlagSet is an internal helper for testing with isolated flag sets.
func parseServerConfigWithFlagSet(fs *flag.FlagSet, args []string) ServerConfig {
	cfg := ServerConfig{
		Addr:     ":8080",
		LogLevel: "info",
	}

	// Read from environment first
	if addr := os.Getenv("DRIFTPAY_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if logLevel := os.Getenv("DRIFTPAY_LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if dbURL := os.Getenv("DRIFTPAY_DATABASE_URL"); dbURL != "" {
		cfg.DatabaseURL = dbURL
	}

	// Flags override environment
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "server address")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "postgres connection string (empty: in-memory store)")
	fs.Parse(args)

	return cfg
}

// ParseClientConfig parses wallet configuration from the optional config
// file, environment variables, and flags, in rising precedence.
// Defaults: serverURL="http://localhost:8080", logLevel="info",
// dataDir="~/.driftpay".
func ParseClientConfig(args []string) ClientConfig {
	return parseClientConfigWithFlagSet(flag.NewFlagSet("driftpay", flag.ExitOnError), args)
}

// ParseClientConfigWith parses client configuration on the caller's flag
// set, so subcommands can register their own flags on fs before parsing.
func ParseClientConfigWith(fs *flag.FlagSet, args []string) ClientConfig {
	return parseClientConfigWithFlagSet(fs, args)
}

// parseClientConfigWithFlagSet is an internal helper for testing with isolated flag sets.
func parseClientConfigWithFlagSet(fs *flag.FlagSet, args []string) ClientConfig {
	cfg := ClientConfig{
		ServerURL: "http://localhost:8080",
		LogLevel:  "info",
		DataDir:   defaultDataDir(),
	}

	// Config file first
	applyFileConfig(&cfg, configFilePath())

	// Environment over file
	if serverURL := os.Getenv("DRIFTPAY_SERVER_URL"); serverURL != "" {
		cfg.ServerURL = serverURL
	}
	if logLevel := os.Getenv("DRIFTPAY_LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if email := os.Getenv("DRIFTPAY_EMAIL"); email != "" {
		cfg.Email = email
	}
	if dataDir := os.Getenv("DRIFTPAY_DATA_DIR"); dataDir != "" {
		cfg.DataDir = dataDir
	}

	// Flags over everything
	fs.StringVar(&cfg.ServerURL, "server-url", cfg.ServerURL, "wallet server URL")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.Email, "email", cfg.Email, "account email")
	fs.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "device database directory")

	stun := make([]string, 0)
	fs.Var((*stringSlice)(&stun), "stun", "STUN server URL (repeatable)")

	fs.Parse(args)

	if len(stun) > 0 {
		cfg.STUNServers = stun
	}

	return cfg
}

func applyFileConfig(cfg *ClientConfig, path string) {
	if path == "" {
		return
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return
	}
	if fc.ServerURL != "" {
		cfg.ServerURL = fc.ServerURL
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = fc.LogLevel
	}
	if fc.Email != "" {
		cfg.Email = fc.Email
	}
	if fc.DataDir != "" {
		cfg.DataDir = fc.DataDir
	}
	if len(fc.STUNServers) > 0 {
		cfg.STUNServers = fc.STUNServers
	}
}

func configFilePath() string {
	if p := os.Getenv("DRIFTPAY_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".driftpay", "config.yaml")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".driftpay"
	}
	return filepath.Join(home, ".driftpay")
}

// stringSlice implements flag.Value for repeatable string flags.
type stringSlice []string

func (s *stringSlice) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSlice) Set(value string) error {
	*s = append(*s, value)
	return nil
}

func (s *stringSlice) Get() interface{} {
	return []string(*s)
}

func (s *stringSlice) IsBoolFlag() bool {
	return false
}

var _ flag.Value = (*stringSlice)(nil)
var _ flag.Getter = (*stringSlice)(nil)
