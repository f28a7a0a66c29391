// Package config loads node configuration from YAML with environment
// overrides. Precedence is defaults, then file values, then VIGIL_*
// environment variables. It also parses zone spec files for the CLI.
package config
