package buffer

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// CheckpointState is the token a Read hands to its consumer. It records
// which buffer issued it and how many records it covers, and can be
// redeemed exactly once.
type CheckpointState struct {
	owner    uuid.UUID
	n        int
	redeemed atomic.Bool
}

// NewCheckpointState creates a state for n records read from the buffer
// identified by owner.
func NewCheckpointState(owner uuid.UUID, n int) *CheckpointState {
	return &CheckpointState{owner: owner, n: n}
}

// NumRecordsToBeChecked returns the number of records the state acknowledges.
func (s *CheckpointState) NumRecordsToBeChecked() int {
	if s == nil {
		return 0
	}
	return s.n
}

// Owner returns the ID of the buffer that issued the state.
func (s *CheckpointState) Owner() uuid.UUID {
	return s.owner
}

// Redeem marks the state used on behalf of the buffer identified by owner.
// Zero-count states are always accepted and never marked.
func (s *CheckpointState) Redeem(owner uuid.UUID) error {
	if s == nil {
		return fmt.Errorf("%w: nil state", ErrInvalidCheckpoint)
	}
	if s.n == 0 {
		return nil
	}
	if s.owner != owner {
		return fmt.Errorf("%w: issued by buffer %s", ErrInvalidCheckpoint, s.owner)
	}
	if !s.redeemed.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: already checkpointed", ErrInvalidCheckpoint)
	}
	return nil
}

func (s *CheckpointState) String() string {
	return fmt.Sprintf("checkpoint(%s, %d)", s.owner, s.n)
}
