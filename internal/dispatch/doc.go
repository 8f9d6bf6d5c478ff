// Package dispatch executes project action sequences for verified webhook
// deliveries.
//
// The dispatcher receives deliveries that already passed signature
// verification and payload parsing, applies the project gate checks
// (enabled, repository match, branch match), and runs the configured
// actions as bash subprocesses. Every delivery is recorded in the history
// store and published to the event hub.
//
// Key behavior:
//   - One action sequence at a time: a mutex serializes shell execution
//     across all projects, so overlapping pushes never interleave git
//     pulls or restarts
//   - Actions run in configured order; a failed action does not stop the
//     sequence, it only counts against the outcome
//   - Timeout enforcement with SIGTERM, then SIGKILL after a 5s grace
//   - Subprocesses are detached from the request context; a dropped
//     client never kills a half-finished deploy
//   - Stderr capture (capped at 64KB)
//
// Outcomes:
//   - Every action succeeded (or none configured): "All actions completed
//     successfully"
//   - Anything less: "Only N/M actions completed"
//   - Gate check stopped the delivery: "Project disabled", "Repository
//     mismatch" or "Branch mismatch"
package dispatch
