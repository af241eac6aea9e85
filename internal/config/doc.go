// Package config loads, normalizes, and validates tsundoku configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and applies TSUNDOKU_* environment overrides.
// The Config type centralizes every knob the CLI and daemon need: storage
// backend selection, catalog endpoint, cache lifetimes, request pacing, and
// background schedules.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
