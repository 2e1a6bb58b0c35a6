package services

import (
	"log"
	"time"

	"github.com/patrickmn/go-cache"
)

const suppressKey = "suppress_notification"

// Notifications tracks the window in which reload notifications were caused
// by this process's own writes. While it is open, assets_updated messages go
// out with initial=true and clients do not treat them as external changes.
type Notifications struct {
	cache  *cache.Cache
	window time.Duration
}

// NewNotifications creates a suppression tracker with the given window.
func NewNotifications(window time.Duration) *Notifications {
	if window <= 0 {
		window = 3 * time.Second
	}
	return &Notifications{
		cache:  cache.New(window, 2*window),
		window: window,
	}
}

// SuppressNextNotification opens (or extends) the suppression window.
func (n *Notifications) SuppressNextNotification() {
	n.cache.Set(suppressKey, time.Now().Add(n.window), cache.DefaultExpiration)
}

// Suppressed reports whether the window is still open.
func (n *Notifications) Suppressed() bool {
	_, found := n.cache.Get(suppressKey)
	return found
}

// SuppressedUntil returns when the current window closes, or the zero time.
func (n *Notifications) SuppressedUntil() time.Time {
	v, found := n.cache.Get(suppressKey)
	if !found {
		return time.Time{}
	}
	until, ok := v.(time.Time)
	if !ok {
		log.Printf("⚠️ [NOTIFY] Unexpected suppression value %T", v)
		return time.Time{}
	}
	return until
}
