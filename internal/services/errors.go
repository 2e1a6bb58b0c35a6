package services

import (
	"errors"
	"fmt"

	"aiconsole/internal/models"
)

var (
	ErrUnknownRef         = errors.New("unknown reference")
	ErrLockTimeout        = errors.New("lock acquisition timed out")
	ErrForeignLock        = errors.New("lock is not held by this session")
	ErrObjectNotFound     = errors.New("object not found")
	ErrCollectionNotFound = errors.New("collection not found")
	ErrUnknownMutation    = errors.New("unknown mutation type")
	ErrUnknownObjectType  = models.ErrUnknownObjectType
	ErrAssetLocked        = errors.New("asset is locked")
)

// LockTimeoutError reports which reference could not be locked in time.
type LockTimeoutError struct {
	Ref models.ObjectRef
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("lock acquisition timed out for %s", e.Ref)
}

func (e *LockTimeoutError) Is(target error) bool { return target == ErrLockTimeout }

// ForeignLockError reports a release by a session that does not own the lock.
type ForeignLockError struct {
	Ref       models.ObjectRef
	SessionID string
	Owner     string
}

func (e *ForeignLockError) Error() string {
	if e.Owner == "" {
		return fmt.Sprintf("lock %s is not acquired (release by %s)", e.Ref, e.SessionID)
	}
	return fmt.Sprintf("lock %s is not acquired by %s", e.Ref, e.SessionID)
}

func (e *ForeignLockError) Is(target error) bool { return target == ErrForeignLock }
