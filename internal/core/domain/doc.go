// Package domain defines the core value types shared by meshstore layers.
//
// It has no IO dependencies. This package contains:
//
//   - Identifier: content-address keys and their validation
//   - Errors: the coded error taxonomy surfaced by the storage engine
package domain
