// Package config provides the meshstore server configuration.
//
//   - spec.go: ServerConfig struct definition
//   - default.go: default values
//   - verify.go: validation and conversion to storage options
//   - sanitize.go: secret masking for logs
//
// Configuration is loaded via internal/infra/confloader from a YAML file,
// MESHSTORE_ environment variables, and command-line overrides.
package config
