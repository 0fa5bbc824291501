// Package sweep runs periodic maintenance jobs (reconcile, journal
// compaction) on cron or interval schedules.
package sweep
