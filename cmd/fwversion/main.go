// Package main implements fwversion, a utility that compiles a firmware
// spec and prints the resulting protocol version. Build pipelines use it
// to bake the expected version into firmware images.
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/osu-uwrt/riptide-fw-bridge/schema"
	"github.com/osu-uwrt/riptide-fw-bridge/spec"
)

func main() {
	specPath := flag.String("spec",
		envOr("FWBRIDGE_SPEC_PATH", "firmware.yaml"),
		"Path to the firmware spec file (env: FWBRIDGE_SPEC_PATH)")
	quiet := flag.Bool("q", false, "Print only the bare version number")

	flag.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, "fwversion - print the protocol version of a firmware spec\n\nUsage: %s [options]\n\nOptions:\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	version, err := compileVersion(*specPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "fwversion: %v\n", err)
		os.Exit(1)
	}

	if *quiet {
		fmt.Println(version)
	} else {
		fmt.Printf("Firmware Bridge Protocol Version: %d\n", version)
	}
}

func compileVersion(path string) (uint32, error) {
	model, err := spec.Load(path)
	if err != nil {
		return 0, fmt.Errorf("load firmware spec: %w", err)
	}

	// Compilation diagnostics are noise here; only the version matters.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	compiled, err := schema.Compile(model, logger)
	if err != nil {
		return 0, fmt.Errorf("compile wire schema: %w", err)
	}

	return compiled.Version(), nil
}

func envOr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
