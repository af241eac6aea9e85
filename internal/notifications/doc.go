// Package notifications pushes short messages about library changes to an
// ntfy topic.
//
// The Service publishes one message per Event. Dispatcher subscribes a
// Service to the events bus and turns automated completions and discovery
// results into notifications while the user setting allows it. When no topic
// is configured NewService returns a no-op implementation, so callers never
// need to branch on whether notifications are enabled.
package notifications
