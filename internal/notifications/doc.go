// Package notifications reports tick outcomes to humans and to other services.
//
// Two transports are supported: an ntfy topic receives short human-readable
// messages, and a NATS subject receives the same events as JSON documents for
// downstream automation. Either, both, or neither may be configured; with
// none configured NewService returns a no-op implementation.
//
// Callers depend only on the Service interface. Delivery failures are returned
// to the caller, which logs them; a failed notification never fails a tick.
package notifications
