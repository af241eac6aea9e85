// Package announcements stores titles discovered as related to completed
// library entries and not yet added to the library.
//
// Announcements are grouped by the id of the completed title they were found
// from. An announced id lives in at most one group, and never in a group and
// the library at the same time; Take and Restore let callers move an
// announcement into the library without a window where both hold it. The
// store also keeps the per-title check records that throttle discovery.
package announcements
