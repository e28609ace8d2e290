// Package scheduler is an in-memory timer engine.
//
// It provides two things:
//   - keyed single-shot timers (Arm/Cancel), each firing at most once
//   - named periodic jobs on robfig/cron (AddSchedule/Remove)
//
// It knows nothing about what the callbacks do.
package scheduler
