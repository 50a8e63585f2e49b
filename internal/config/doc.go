// Package config loads, normalizes, and validates convertd configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// CONVERTD_API_TOKEN and MINIO_ACCESS_KEY. The Config type centralizes every
// knob the daemon, worker, and CLI need.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
