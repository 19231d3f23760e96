// Package notifier provides the async delivery pipeline for user
// notifications such as session reminders.
//
// Notify never waits for delivery: it applies dedup and queues the message.
// Workers drain the queue under a token-bucket rate limit, retry transient
// send failures with backoff and report the outcome on the event bus.
//
// # Dedup
//
// A notification with the same Key is suppressed for DedupWindow. Keys are
// also written to storage (when PersistDedup is set) so an at-least-once
// trigger that fires twice, even across a restart, sends once.
package notifier
