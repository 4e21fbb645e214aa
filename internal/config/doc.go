// Package config loads and merges abigate configuration from multiple sources.
//
// Precedence (highest to lowest):
//  1. CLI flags
//  2. Environment variables (ABIGATE_API_URL, ABIGATE_DATABASE_URL, etc.),
//     including values from a .env file in the working directory
//  3. Config file ($XDG_CONFIG_HOME/abigate/config.json)
//  4. Built-in defaults
//
// The project-keyed repository and architecture tables live in a separate
// YAML [Policy] so they can be handed to the repository matcher explicitly.
package config
