package access

import (
	"errors"
	"fmt"

	"farmcore/pkg/domain"
)

var (
	// ErrInvalidRole matches every *InvalidRoleError.
	ErrInvalidRole = errors.New("invalid role")
	// ErrSyncFailed matches every *SyncFailedError.
	ErrSyncFailed = errors.New("access sync failed")
	// ErrPermissionDenied is returned by Require when a role lacks an operation.
	ErrPermissionDenied = errors.New("permission denied")
)

// InvalidRoleError reports a role outside the closed set. No state changes.
type InvalidRoleError struct {
	Value string
}

func (e *InvalidRoleError) Error() string {
	return fmt.Sprintf("invalid role %q", e.Value)
}

// Is matches ErrInvalidRole.
func (e *InvalidRoleError) Is(target error) bool { return target == ErrInvalidRole }

// SyncFailedError reports a synchronization that was rolled back. It carries
// what an operator needs to re-run the sync by hand.
type SyncFailedError struct {
	UserID  string
	OldRole domain.Role
	NewRole domain.Role
	Err     error
}

func (e *SyncFailedError) Error() string {
	return fmt.Sprintf("sync user %s (%s -> %s): %v", e.UserID, e.OldRole, e.NewRole, e.Err)
}

// Unwrap returns the underlying cause.
func (e *SyncFailedError) Unwrap() error { return e.Err }

// Is matches ErrSyncFailed.
func (e *SyncFailedError) Is(target error) bool { return target == ErrSyncFailed }
