// Package reminder holds the reminder domain: duration parsing, reply texts
// and the Service that ties a storage.Store to the single-shot scheduler.
//
// The store is the source of truth. Timers only carry a reminder id and every
// fire re-reads the record, so a cancel that lands before the fire always
// wins and a restart only needs Reconcile to re-arm what is still pending.
package reminder
