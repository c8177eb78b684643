package types

// ConversationState is the lifecycle state of a conversation. The state set
// is closed: UNRESOLVABLE is a first-class terminal variant, not a sentinel
// string bolted on beside the enum.
type ConversationState string

const (
	StateInitiated    ConversationState = "initiated"
	StateWaiting      ConversationState = "waiting"
	StateFollowUp     ConversationState = "follow_up"
	StateEscalated    ConversationState = "escalated"
	StateAnswered     ConversationState = "answered"
	StateCancelled    ConversationState = "cancelled"
	StateUnresolvable ConversationState = "unresolvable"
)

// AllStates lists every conversation state. Exhaustiveness checks in tests
// iterate this instead of hard-coding the set.
var AllStates = []ConversationState{
	StateInitiated,
	StateWaiting,
	StateFollowUp,
	StateEscalated,
	StateAnswered,
	StateCancelled,
	StateUnresolvable,
}

// Terminal reports whether the state is terminal. Terminal conversations are
// never mutated again except by the retention purge.
func (s ConversationState) Terminal() bool {
	switch s {
	case StateAnswered, StateCancelled, StateUnresolvable:
		return true
	}
	return false
}

// Valid reports whether s is a known state.
func (s ConversationState) Valid() bool {
	switch s {
	case StateInitiated, StateWaiting, StateFollowUp, StateEscalated,
		StateAnswered, StateCancelled, StateUnresolvable:
		return true
	}
	return false
}

// Sweepable reports whether the sweeper considers this state when scanning
// for overdue conversations. The filter is exactly the three pre-escalation
// states: a conversation a prior run already escalated is excluded and only
// advances again via answer, cancel, cant-help, or an explicit escalate call.
func (s ConversationState) Sweepable() bool {
	switch s {
	case StateInitiated, StateWaiting, StateFollowUp:
		return true
	}
	return false
}

// EventType identifies an entry in a conversation's append-only audit log.
type EventType string

const (
	EventInitiated    EventType = "initiated"
	EventAcknowledged EventType = "acknowledged"
	EventTimeout      EventType = "timeout"
	EventFollowUpSent EventType = "follow_up_sent"
	EventEscalated    EventType = "escalated"
	EventCantHelp     EventType = "cant_help"
	EventRouted       EventType = "routed"
	EventAnswered     EventType = "answered"
	EventCancelled    EventType = "cancelled"
	EventUnresolvable EventType = "unresolvable"
)

// AllEventTypes lists every event type, for exhaustiveness checks.
var AllEventTypes = []EventType{
	EventInitiated,
	EventAcknowledged,
	EventTimeout,
	EventFollowUpSent,
	EventEscalated,
	EventCantHelp,
	EventRouted,
	EventAnswered,
	EventCancelled,
	EventUnresolvable,
}

// CanTransition reports whether a conversation may move from one state to
// another. Answer and cancel are permissive: any non-terminal state may close
// out (an answer arriving mid-escalation still resolves the conversation).
func CanTransition(from, to ConversationState) bool {
	if from.Terminal() {
		return false
	}
	switch to {
	case StateAnswered, StateCancelled:
		return true
	case StateUnresolvable:
		// Only the escalation engine reaches this, from any non-terminal state.
		return true
	case StateWaiting:
		return from == StateInitiated
	case StateFollowUp:
		return from == StateInitiated || from == StateWaiting || from == StateFollowUp
	case StateEscalated:
		return from == StateInitiated || from == StateWaiting ||
			from == StateFollowUp || from == StateEscalated
	case StateInitiated:
		return false
	}
	return false
}
