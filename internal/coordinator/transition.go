// ABOUTME: Tagged state transition for optimistic mutations
// ABOUTME: Pending(optimistic) resolves to Confirmed(server) or Reverted(prior)

package coordinator

// TransitionState tags the lifecycle of an optimistic mutation.
type TransitionState int

const (
	// StatePending means the optimistic value is applied locally and the
	// remote call has not settled yet.
	StatePending TransitionState = iota
	// StateConfirmed means server truth superseded the optimistic value via
	// a reconciling refresh.
	StateConfirmed
	// StateReverted means the prior value was restored because neither the
	// remote call nor a reconciling refresh succeeded.
	StateReverted
)

func (s TransitionState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateConfirmed:
		return "confirmed"
	case StateReverted:
		return "reverted"
	default:
		return "unknown"
	}
}

// ReadTransition tracks one optimistic mark-read: the conversation, the
// unread count it displaced, and where the transition settled. Making the
// temporary nature of the optimistic zero explicit keeps it testable instead
// of an implicit side effect of re-fetching.
type ReadTransition struct {
	ConversationID int64
	Prior          int
	State          TransitionState
}

// Confirm marks the transition settled by server truth.
func (t *ReadTransition) Confirm() { t.State = StateConfirmed }

// Revert marks the transition rolled back to the prior value.
func (t *ReadTransition) Revert() { t.State = StateReverted }
