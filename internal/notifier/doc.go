// Package notifier delivers poller messages to the configured recipient.
//
// Sends are synchronous so the caller sees the delivery outcome. The service
// adds a rate limit and a per-send timeout in front of the transport, keeps a
// small in-memory history of recent outcomes and publishes each outcome on
// the event bus.
package notifier
