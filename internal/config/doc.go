// Package config loads the SDK and service configuration from a JSON file
// and overlays ECASH_* environment variables.
package config
