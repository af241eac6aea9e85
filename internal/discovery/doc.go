// Package discovery finds announced or recently released sequels, prequels,
// spin-offs and side stories of completed library titles and records them
// as announcements.
//
// A related title counts as a future release when it is announced or airing,
// or when it finished airing within the configured window (a year by
// default). Recently finished side stories are kept on purpose: they are
// easy to miss.
//
// Promotion moves an announcement into the library. The announcement is taken
// out of its group before the library entry is written and put back if that
// write fails, so a title is never held by both collections.
package discovery
