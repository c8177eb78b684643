package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/squadflow/persistence"
	"github.com/BaSui01/squadflow/types"
)

func TestScheduler_RunSweepsOnStartAndStopsOnCancel(t *testing.T) {
	env := setupEnv(t)
	conv := env.initiate(t)
	env.expireDeadline(t, conv.ID)

	sched := NewScheduler(env.sweeper(t, 1), SchedulerConfig{
		Interval:   time.Hour, // only the run-on-start sweep fires
		RunOnStart: true,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()

	// The start-up sweep advances the overdue conversation.
	require.Eventually(t, func() bool {
		got, err := env.store.GetConversation(context.Background(), conv.ID)
		return err == nil && got.State == types.StateFollowUp
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop on cancel")
	}
}

func TestScheduler_TriggerNow(t *testing.T) {
	env := setupEnv(t)
	conv := env.initiate(t)
	env.expireDeadline(t, conv.ID)

	sched := NewScheduler(env.sweeper(t, 1), SchedulerConfig{Interval: time.Hour}, nil)

	assert.True(t, sched.TriggerNow(context.Background()))

	got, err := env.store.GetConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateFollowUp, got.State)
}

func TestScheduler_TriggerNow_PurgesOldTerminals(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	conv := env.initiate(t)

	// Resolve and age the conversation beyond retention.
	_, err := env.conv.Answer(ctx, conv.ID, env.lead.ID, "sure")
	require.NoError(t, err)
	old := time.Now().UTC().Add(-48 * time.Hour)
	_, err = env.store.Mutate(ctx, conv.ID, func(c *persistence.Conversation) ([]*persistence.ConversationEvent, error) {
		c.ResolvedAt = &old
		return nil, nil
	})
	require.NoError(t, err)

	sched := NewScheduler(env.sweeper(t, 1), SchedulerConfig{
		Interval:  time.Hour,
		Retention: 24 * time.Hour,
	}, nil)
	assert.True(t, sched.TriggerNow(ctx))

	_, err = env.store.GetConversation(ctx, conv.ID)
	assert.Error(t, err)
}
