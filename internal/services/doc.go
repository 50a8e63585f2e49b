// Package services defines shared utilities consumed by the gateway,
// dispatcher, and reaper.
//
// Key responsibilities:
//   - Context helpers that stamp execution IDs, tool names, and correlation
//     identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper, and Classify, which maps
//     any failure onto the persisted error kind (validation, execution,
//     transient_dispatch, timeout, storage, internal).
package services
