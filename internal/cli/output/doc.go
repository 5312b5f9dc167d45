// Package output renders meshstore CLI results.
//
//   - formatter.go: Formatter interface and factory
//   - table.go: aligned tables built from structs, slices and maps
//   - json.go, yaml.go: machine-readable output
//   - progress.go: progress bar for long scans
//
// Struct fields are named after their json tag. A `table:"-"` tag hides a
// field, `table:"wide"` shows it only in wide mode, and `table:"bytes"`
// renders an integer as a human-readable size.
package output
