package jobs

import (
	"testing"
	"time"
)

func TestTrashCleanupScheduleDefault(t *testing.T) {
	job, err := NewTrashCleanupJob(nil, time.Hour, "")
	if err != nil {
		t.Fatalf("Failed to create job: %v", err)
	}

	next := job.GetNextRunTime()
	if !next.After(time.Now()) {
		t.Errorf("Expected next run in the future, got %v", next)
	}
	if next.Hour() != 3 || next.Minute() != 0 {
		t.Errorf("Expected next run at 03:00, got %s", next.Format("15:04"))
	}
}

func TestTrashCleanupScheduleCustom(t *testing.T) {
	job, err := NewTrashCleanupJob(nil, time.Hour, "*/15 * * * *")
	if err != nil {
		t.Fatalf("Failed to create job: %v", err)
	}
	if until := time.Until(job.GetNextRunTime()); until > 15*time.Minute {
		t.Errorf("Expected next run within 15m, got %v", until)
	}
}

func TestTrashCleanupScheduleInvalid(t *testing.T) {
	if _, err := NewTrashCleanupJob(nil, time.Hour, "every tuesday"); err == nil {
		t.Error("Expected error for invalid cron expression")
	}
}
