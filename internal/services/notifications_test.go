package services

import (
	"testing"
	"time"
)

func TestNotifications_SuppressionWindow(t *testing.T) {
	n := NewNotifications(50 * time.Millisecond)

	if n.Suppressed() {
		t.Fatal("Expected no suppression before any write")
	}

	n.SuppressNextNotification()
	if !n.Suppressed() {
		t.Error("Expected suppression right after a write")
	}
	if n.SuppressedUntil().IsZero() {
		t.Error("Expected a window end time")
	}

	time.Sleep(120 * time.Millisecond)
	if n.Suppressed() {
		t.Error("Expected suppression to lapse after the window")
	}
	if !n.SuppressedUntil().IsZero() {
		t.Error("Expected zero end time after the window")
	}
}
