// Package rungate gates agent runs executed by a remote backend behind a
// human-in-the-loop review policy.
//
// The gate consumes each run's server-sent event stream, evaluates tool-use
// proposals against a configurable policy and pauses the run until a human
// (or the policy itself) decides. Every decision lands in an append-only
// audit log; logs and artifacts accumulate in a shared run store consumed by
// display surfaces. Pluggable service layers include:
//
//   - runtime/orchestrator - per-run state machine and event loop
//   - service/stream       - SSE client with bounded reconnect and heartbeat
//   - service/gateway      - REST client for the execution backend
//   - policy               - deterministic approval-requirement rules
//   - service/audit        - append-only decision log
//
// Rungate is designed to be embedded in host applications. End-users
// typically interact via the high-level Service facade exposed by the root
// package:
//
//	srv := rungate.New(rungate.WithConfig(cfg))
//	plan, _ := srv.SelectAgent(ctx, "digest")
//	r, _ := srv.StartRun(ctx, plan.ID)
//	// ... later, when the run is awaiting approval:
//	_ = srv.Approve(ctx, r.ID, requestID, "looks fine")
//
// For more details see the README and individual sub-packages.
package rungate
