package membership

import (
	"errors"
	"fmt"
)

// ErrInconsistentSnapshot marks a snapshot row that references state the snapshot does not contain
var ErrInconsistentSnapshot = errors.New("inconsistent snapshot")

// InconsistentSnapshotError describes a membership row excluded from an index.
// It is diagnostic only: an excluded row is treated as granting nothing.
type InconsistentSnapshotError struct {
	UserID  uint
	GroupID uint
	Reason  string
}

func (e *InconsistentSnapshotError) Error() string {
	return fmt.Sprintf("inconsistent snapshot: membership user=%d group=%d: %s", e.UserID, e.GroupID, e.Reason)
}

func (e *InconsistentSnapshotError) Unwrap() error {
	return ErrInconsistentSnapshot
}
