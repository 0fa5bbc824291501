// Package notifier delivers fired reminders to people.
//
// It is the user-facing half of the runtime scheduling backend and the
// delivery end of the native queue worker: a fired timer becomes a Message,
// Message goes into a bounded queue, and a small worker pool fans it out to
// every configured Sink (log, Telegram, event bus) under a shared rate limit
// with per-sink retries.
//
// # Dedup
//
// Messages carrying a Key (the scheduling handle) are delivered at most once
// per DedupWindow. A durable queue may redeliver a task after a worker crash;
// the window absorbs that.
package notifier
