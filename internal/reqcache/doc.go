// Package reqcache is the two-tier cache in front of the catalog API.
//
// Responses are held in a bounded in-memory tier per operation and in the
// persistent store under api_cache_ keys. Each operation has its own TTL,
// checked lazily on read; a sweep that runs at most once per interval purges
// expired persistent entries. Persistent writes that hit the storage quota
// purge the oldest cache entries and retry once; a second failure is logged
// and swallowed so cache pressure never reaches library writes.
package reqcache
