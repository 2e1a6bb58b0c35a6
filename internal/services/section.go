package services

import "context"

// criticalSection is the single process-wide mutual exclusion region that
// acquire, release, mutate and persist run in. Entering honors ctx; work
// inside the section is never interrupted.
type criticalSection struct {
	sem chan struct{}
}

func newCriticalSection() *criticalSection {
	return &criticalSection{sem: make(chan struct{}, 1)}
}

func (s *criticalSection) enter(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *criticalSection) exit() {
	<-s.sem
}
