// Package command provides the meshstore CLI built on urfave/cli/v2.
//
//   - root.go: application, global flags, config and engine setup
//   - record.go: put, get, delete, contains, scan
//   - maintenance.go: compact, stats, verify
//   - serve.go: long-running node with the admin HTTP server and socket
//   - system.go: version, keygen
//
// Identifiers are given and printed as lowercase hex.
package command
