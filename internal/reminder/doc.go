// Package reminder keeps durable reminder records and local timers in step.
//
// The store is the source of truth; timers are write-once, cancel-once and
// may not survive a restart. Every Manager operation on one reminder id runs
// under that id's lock and follows a fixed order:
//
//	Create: insert, schedule, write handle back
//	Edit:   read, cancel old handle, update fields and clear handle, schedule, write handle back
//	Delete: read, cancel, delete
//	Toggle: read, cancel, (schedule), update
//
// Scheduling problems are never errors here. They come back as the
// scheduling.Result on the operation's Result so callers can tell the user
// whether a notification will actually appear.
package reminder
