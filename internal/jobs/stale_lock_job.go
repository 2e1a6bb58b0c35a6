package jobs

import (
	"context"
	"log"
	"time"

	"aiconsole/internal/services"
)

// StaleLockJob force-releases write locks held longer than maxHold. Releasing
// flushes the locked asset and applies the mutations queued behind it, the
// same as an owner release.
type StaleLockJob struct {
	interval
	core    *services.Core
	maxHold time.Duration
}

// NewStaleLockJob creates a job checking every period for locks older than maxHold.
func NewStaleLockJob(core *services.Core, period, maxHold time.Duration) *StaleLockJob {
	return &StaleLockJob{
		interval: interval{every: period},
		core:     core,
		maxHold:  maxHold,
	}
}

// Run releases every stale lock
func (j *StaleLockJob) Run(ctx context.Context) error {
	j.markRun()

	reaped, err := j.core.ReapStaleLocks(ctx, j.maxHold)
	if len(reaped) > 0 {
		log.Printf("[LOCK-REAPER] Released %d stale locks", len(reaped))
	}
	return err
}
