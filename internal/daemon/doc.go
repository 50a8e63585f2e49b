// Package daemon coordinates the long-running convertd process.
//
// It wires configuration, the execution store, blob staging, the plugin
// registry, and the dispatcher into a single lifecycle with flock-based
// locking to prevent two daemons sharing a data directory. In local worker
// mode the daemon also owns the execution pool; in remote mode triggers go
// over HTTP to a separate `convertd worker` process, which this package runs
// as a Worker.
//
// Keep orchestration logic here: request handling lives in api, execution in
// dispatch, and retention in reaper. The daemon focuses on startup, shutdown,
// and status.
package daemon
