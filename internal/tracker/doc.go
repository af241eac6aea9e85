// Package tracker is the single entry point the CLI and daemon use to drive
// the library.
//
// Open builds every component from configuration: the storage backend, the
// request cache, the catalog client, the shared pacer, the library and
// announcement stores, and both background engines. New accepts the same
// pieces already constructed, which is what tests use. The Tracker wires the
// cross-component rules that no single package owns: removing a title also
// drops the announcements discovered from it, adding an announced title
// promotes it, completing a title schedules discovery for it, and backups
// cover the library, announcements and settings together.
package tracker
