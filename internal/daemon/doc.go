// Package daemon coordinates the long-running tsundoku process.
//
// It wraps an opened tracker in a single lifecycle with flock-based locking
// to prevent multiple instances. Two schedulers drive the engines: status
// reconciliation and announcement discovery, each honoring the user's
// automatic-check settings. Discovery runs are followed by library
// maintenance and a request cache sweep. When a bind address is configured
// the daemon serves a small JSON status API and the Prometheus scrape
// endpoint, and it forwards engine events to the notification dispatcher.
//
// Keep orchestration logic here: engine rules live in their own packages
// while the daemon focuses on startup, shutdown and scheduling.
package daemon
