// Package spec parses and validates the bridge's declarative
// specification file into an immutable in-memory model.
//
// The specification is a single YAML document with five sections:
//
//	targets:            # deployment identities this spec serves
//	  - talos
//
//	messages:           # payload message types with fields and constants
//	  imu_command:
//	    fields:
//	      mode: uint8
//	    constants:
//	      MODE_IDLE: 0
//	      MODE_ACTIVE: 1
//
//	topics:             # typed pub/sub channels with per-target direction
//	  command/imu:
//	    type: imu_command
//	    qos: system_default
//	    subscribers: [talos]
//
//	parameters:         # firmware parameters (optional section)
//	  max_depth: PARAMETER_DOUBLE
//
//	constant_mapping:   # ordered glob rules binding constants to fields
//	  imu_command:
//	    "MODE_*": mode
//	    "DEBUG_*": ""
//
// Declaration order is semantic: topic order fixes envelope member
// numbering, parameter order fixes the parameter enum, field order fixes
// field numbering, and rule order fixes first-match-wins resolution. The
// loader therefore walks yaml.Node trees instead of decoding into Go maps,
// which also lets it reject duplicate keys.
//
// Every validation failure is a ConfigError and aborts compilation; the
// loader never defers a violation to the runtime.
package spec
