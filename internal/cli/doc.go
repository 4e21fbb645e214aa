// Package cli wires together the Cobra command tree for the abigate binary.
//
// It defines the root command and all subcommands (check, db, config, cache,
// doctor, version), binds flags, reads configuration, builds the check
// pipeline, and returns deterministic exit codes for CI gating.
package cli
