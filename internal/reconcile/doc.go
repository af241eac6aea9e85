// Package reconcile advances planned titles to completed once the catalog
// confirms every episode aired, and keeps episode counts and air dates of
// planned titles current.
//
// Runs walk the planned titles in small batches through the shared request
// pacer. A failure on one title is recorded on the entry and never stops the
// run; each batch is persisted before the next one starts, so an interrupted
// run loses at most one batch of work.
package reconcile
