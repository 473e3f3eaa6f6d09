// Package extension provides run-time registries that allow rungate to work
// with user-defined Go types (for example typed artifact results).
//
// The registries are normally modified through the public APIs under the
// root rungate package, therefore most applications do not need to import
// this package directly.
package extension
