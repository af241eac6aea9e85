// Command tsundoku tracks an anime watch library against a remote catalog.
//
// Every command opens the configured store directly. Commands that change
// the library take the daemon lock for their duration, so they refuse to run
// while `tsundoku daemon` is active; read-only commands always work. Output
// is rendered as tables on a terminal and as JSON with --json.
package main
