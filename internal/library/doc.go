// Package library owns the authoritative set of tracked titles.
//
// A Library keeps every Entry in memory, persists the whole map under the
// "library" storage key on every write, and exposes the pure view selectors
// (ReadyToWatch, WaitingForEpisodes) plus watch-time statistics derived from
// it. Automated writers (the reconciliation and discovery engines) go through
// Apply, which silently skips ids removed mid-run; user edits go through
// Upsert, SetStatus, UpdateProgress and SetPoster.
package library
