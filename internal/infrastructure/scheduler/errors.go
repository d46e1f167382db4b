package scheduler

import "errors"

var (
	// ErrTriggerNotRunning is returned when stopping a trigger that was
	// never started.
	ErrTriggerNotRunning = errors.New("sync trigger is not running")

	// ErrSyncInProgress is returned when a manual trigger arrives while a
	// sync run is already executing.
	ErrSyncInProgress = errors.New("sync run already in progress")
)
