// Package main hosts the convertd CLI entrypoint and command graph.
//
// The Cobra-based command tree runs the daemon and worker processes, offers
// offline maintenance against the execution database (listing, one-shot
// sweeps, preflight), and acts as an HTTP client of a running daemon for
// submitting conversions and polling results. It centralizes configuration
// resolution and server discovery so subcommands can focus on output.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
