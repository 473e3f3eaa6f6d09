// Package idgen wraps the UUID generator so that it can be stubbed in tests.
// Callers treat the produced identifiers as opaque strings; nothing may rely
// on their format.
package idgen
