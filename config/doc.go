// Package config loads SquadFlow configuration from defaults, an optional
// YAML file, and environment variable overrides, in that order.
package config
