package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"aiconsole/internal/storage"
)

// DefaultTrashCleanupSchedule runs the cleanup daily at 3 AM.
const DefaultTrashCleanupSchedule = "0 3 * * *"

// TrashCleanupJob permanently deletes trashed asset files past retention.
type TrashCleanupJob struct {
	store     *storage.FileStorage
	retention time.Duration
	schedule  cron.Schedule
}

// NewTrashCleanupJob creates a trash cleanup job running on a standard
// five-field cron expression. An empty expression uses the daily default.
func NewTrashCleanupJob(store *storage.FileStorage, retention time.Duration, expr string) (*TrashCleanupJob, error) {
	if expr == "" {
		expr = DefaultTrashCleanupSchedule
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid trash cleanup schedule %q: %w", expr, err)
	}
	return &TrashCleanupJob{
		store:     store,
		retention: retention,
		schedule:  schedule,
	}, nil
}

// Run purges old trash
func (j *TrashCleanupJob) Run(ctx context.Context) error {
	log.Println("🗑️ [RETENTION] Starting trash cleanup...")
	startTime := time.Now()

	removed, err := j.store.PurgeTrash(j.retention)
	if err != nil {
		log.Printf("⚠️ [RETENTION] Trash cleanup stopped after %d files: %v", removed, err)
		return err
	}

	log.Printf("✅ [RETENTION] Removed %d trashed files older than %v in %v", removed, j.retention, time.Since(startTime))
	return nil
}

// GetNextRunTime returns the next cron activation after now
func (j *TrashCleanupJob) GetNextRunTime() time.Time {
	return j.schedule.Next(time.Now())
}
