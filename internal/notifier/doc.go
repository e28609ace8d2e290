// Package notifier delivers outbound notices (the "Reminder: ..." private
// messages) through a bounded queue drained by a small worker pool. Sends are
// rate limited with golang.org/x/time/rate and retried with jittered
// exponential backoff; every stage is published on the event bus.
package notifier
