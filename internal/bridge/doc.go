// Package bridge runs the native messaging request/response loop.
//
// The loop reads one framed request at a time, runs the scan tool for its
// target and writes exactly one framed reply before reading the next request.
//
// State machine:
//   - Awaiting request: block on Receive.
//   - Terminated: Receive reported end of stream; Run returns nil.
//
// Error handling:
//   - Missing target → {"error": "No target specified"}, loop continues
//   - Tool exits non-zero → {"error": <trimmed stderr>}, loop continues
//   - Tool cannot be run (not found, timed out, rejected target) → {"error": <reason>}, loop continues
//   - Output line missing → field is null in an otherwise successful reply
//   - Framing error or failed write → Run returns the error; the process should exit
//
// There is no concurrency: one scan is in flight at a time and requests are
// served strictly in arrival order.
package bridge
