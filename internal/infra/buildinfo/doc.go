// Package buildinfo reports the version of the running binary.
//
// Release builds inject values with ldflags:
//
//	go build -ldflags "-X github.com/yndnr/meshstore/internal/infra/buildinfo.Version=v0.3.0" ./cmd/meshstore
//
// Values left unset are filled from the module build information the Go
// toolchain embeds.
package buildinfo
