// Package config loads and validates monitor configuration from YAML
// files with ${VAR} environment expansion.
package config
