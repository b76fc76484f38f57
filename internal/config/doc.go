// Package config loads, normalizes, and validates mediadump configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// MEDIADUMP_BIND and MEDIADUMP_FFMPEG. The Config type centralizes every knob
// the server and CLI need, so scratch/archive directories, fetch retry policy,
// and the transcoder command are resolved in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
