package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConversationState_Terminal(t *testing.T) {
	assert.True(t, StateAnswered.Terminal())
	assert.True(t, StateCancelled.Terminal())
	assert.True(t, StateUnresolvable.Terminal())

	assert.False(t, StateInitiated.Terminal())
	assert.False(t, StateWaiting.Terminal())
	assert.False(t, StateFollowUp.Terminal())
	assert.False(t, StateEscalated.Terminal())
}

func TestConversationState_Valid(t *testing.T) {
	for _, s := range AllStates {
		assert.True(t, s.Valid(), "state %s should be valid", s)
	}
	assert.False(t, ConversationState("resolved").Valid())
	assert.False(t, ConversationState("").Valid())
}

func TestConversationState_Sweepable(t *testing.T) {
	sweepable := map[ConversationState]bool{
		StateInitiated: true,
		StateWaiting:   true,
		StateFollowUp:  true,
	}
	for _, s := range AllStates {
		assert.Equal(t, sweepable[s], s.Sweepable(), "state %s", s)
	}
}

func TestCanTransition_TerminalStatesAreFinal(t *testing.T) {
	for _, from := range AllStates {
		if !from.Terminal() {
			continue
		}
		for _, to := range AllStates {
			assert.False(t, CanTransition(from, to),
				"terminal %s must not transition to %s", from, to)
		}
	}
}

func TestCanTransition_CloseoutFromAnyLiveState(t *testing.T) {
	for _, from := range AllStates {
		if from.Terminal() {
			continue
		}
		assert.True(t, CanTransition(from, StateAnswered), "from %s", from)
		assert.True(t, CanTransition(from, StateCancelled), "from %s", from)
		assert.True(t, CanTransition(from, StateUnresolvable), "from %s", from)
	}
}

func TestCanTransition_ForwardPath(t *testing.T) {
	assert.True(t, CanTransition(StateInitiated, StateWaiting))
	assert.True(t, CanTransition(StateInitiated, StateFollowUp))
	assert.True(t, CanTransition(StateWaiting, StateFollowUp))
	assert.True(t, CanTransition(StateFollowUp, StateFollowUp))
	assert.True(t, CanTransition(StateFollowUp, StateEscalated))
	assert.True(t, CanTransition(StateEscalated, StateEscalated))

	assert.False(t, CanTransition(StateWaiting, StateWaiting))
	assert.False(t, CanTransition(StateEscalated, StateWaiting))
	assert.False(t, CanTransition(StateWaiting, StateInitiated))
	assert.False(t, CanTransition(StateEscalated, StateFollowUp))
}
