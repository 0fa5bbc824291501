// Package scheduling arms and cancels local reminder timers.
//
// An Adapter fronts exactly one Backend chosen at startup from the
// capability probe:
//   - native:  durable delayed tasks in Redis (asynq); handles "nq:<queue>:<id>"
//   - runtime: in-process time.AfterFunc timers; handles "rt:<epoch>:<id>"
//   - noop:    nothing can be armed
//
// Schedule never returns a Go error. Every way a timer can fail to be armed
// is an Outcome on the Result, so callers can persist the record and still
// report what happened. Cancel is idempotent and swallows misses.
package scheduling
