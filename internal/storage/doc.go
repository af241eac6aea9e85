// Package storage provides the persistent key/value layer that every other
// component writes through.
//
// Values are JSON documents addressed by string keys. Four interchangeable
// backends implement Store: an embedded SQLite database (default), a single
// JSON file written atomically, an in-memory map for tests and ephemeral runs,
// and Redis for users who already run one. All of them report storage
// exhaustion as ErrQuotaExceeded so callers can apply the same recovery.
package storage
