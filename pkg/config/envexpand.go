package config

import "os"

// ExpandEnv expands environment variables in YAML content using the standard
// library. Supports both ${VAR} and $VAR syntax. Missing variables expand to
// empty string; validation is expected to catch required fields left empty.
func ExpandEnv(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}
