// Package audit defines the append-only decision log for human-in-the-loop
// approvals. Every proposal decision – human or policy-made – is recorded
// exactly once per request and never edited, giving compliance surfaces a
// stable history and the orchestrator a duplicate-decision guard.
package audit
