// Package config loads and validates the daemon configuration.
//
// Configuration is layered: built-in defaults, then JSON file layers in
// the order they were added, then FWBRIDGE_* environment variables.
// Later layers override earlier ones key by key, so a file only needs
// the values it changes.
//
//	loader := config.NewLoader()
//	loader.AddLayer("/etc/fwbridge/config.json")
//	loader.EnableValidation(true)
//	cfg, err := loader.Load()
//
// The firmware spec file named by spec_path is not parsed here; the
// spec package owns that format. This package only decides which file
// the daemon reads and how the surrounding process behaves.
//
// Environment overrides: FWBRIDGE_SPEC_PATH, FWBRIDGE_NATS_URL,
// FWBRIDGE_NATS_USERNAME, FWBRIDGE_NATS_PASSWORD, FWBRIDGE_NATS_TOKEN,
// FWBRIDGE_TRANSPORT_ADDR, FWBRIDGE_TRANSPORT_PATH,
// FWBRIDGE_METRICS_PORT, FWBRIDGE_LOG_LEVEL, FWBRIDGE_LOG_FORMAT.
package config
