package main

import (
	"flag"
	"fmt"
	"os"
	"time"
)

// CLIConfig holds command-line configuration.
type CLIConfig struct {
	Target          string // positional argument: the target to bridge
	ConfigPath      string
	SpecPath        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("FWBRIDGE_CONFIG", ""),
		"Path to daemon configuration file; built-in defaults when empty (env: FWBRIDGE_CONFIG)")

	flag.StringVar(&cfg.SpecPath, "spec",
		"",
		"Path to the firmware spec file, overrides spec_path from the config")

	flag.StringVar(&cfg.LogLevel, "log-level",
		"",
		"Log level: debug, info, warn, error; overrides the config")

	flag.StringVar(&cfg.LogFormat, "log-format",
		"",
		"Log format: json, text; overrides the config")

	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("FWBRIDGE_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: FWBRIDGE_SHUTDOWN_TIMEOUT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Compile the spec, validate configuration and exit")

	flag.Usage = printDetailedHelp

	flag.Parse()

	if args := flag.Args(); len(args) == 1 {
		cfg.Target = args[0]
	} else if len(args) > 1 {
		cfg.Target = "" // more than one positional argument is as wrong as none
	}

	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if cfg.Target == "" {
		return fmt.Errorf("exactly one target argument is required")
	}

	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}

	switch cfg.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	switch cfg.LogFormat {
	case "", "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	return nil
}

func printDetailedHelp() {
	_, _ = fmt.Fprintf(os.Stderr, `%s - firmware protocol bridge

Usage: %s [options] <target>

The target selects which routing table of the firmware spec this
process serves; it must be one of the targets the spec declares.

Options:
`, appName, os.Args[0])
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Bridge the talos target with the default configuration
  %s talos

  # Custom daemon config and spec file
  %s -config /etc/fwbridge/config.json -spec /etc/fwbridge/firmware.yaml talos

  # Check the spec and configuration without starting
  %s -validate talos

Version: %s
Build: %s
`, os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
