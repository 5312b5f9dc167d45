// Package confloader loads layered configuration with koanf and watches
// the configuration file with fsnotify.
//
// Priority, highest first:
//
//  1. Command-line flags (LoadMap)
//  2. Environment variables (MESHSTORE_SECTION__KEY)
//  3. The YAML configuration file
//  4. Defaults already present in the target struct
package confloader
