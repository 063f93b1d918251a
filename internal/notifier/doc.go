// Package notifier delivers operator messages.
//
// Service is an async pipeline (queue, worker pool, rate limit, retry and
// dedup) in front of a transport.Adapter. Relay turns booking events from
// the event bus into chat notifications, and Publisher is the
// booking.Notifier the core writes to.
package notifier
