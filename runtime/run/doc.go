// Package run defines the runtime data model shared by the orchestrator,
// the event stream client and the display stores: runs, backend proposals,
// wire events and the opaque log/artifact display records.
package run
