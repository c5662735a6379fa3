/*
Package config loads Accord configuration from a YAML file with
environment variable overrides (ACCORD_HOST, ACCORD_PORT,
ACCORD_DATA_DIR, ACCORD_LOG_LEVEL, ACCORD_SCALE).

Precedence, lowest to highest: built-in defaults, config file,
environment. CLI flags are applied on top by cmd/accord.
*/
package config
