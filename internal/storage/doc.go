// Package storage persists reminders.
//
// One Store interface, several drivers picked by Config.Driver:
//   - memory, file: no external services
//   - sqlite: single-file database, schema from migrations.sql
//   - postgres, redis: shared servers for multi-host deployments
//
// All drivers create their schema if absent.
package storage
