package persistence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/BaSui01/squadflow/types"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	// A single connection keeps every session on the same in-memory database.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	store := NewStore(db, nil)
	require.NoError(t, store.AutoMigrate())
	return store
}

func strPtr(s string) *string { return &s }

func newTestConversation(t *testing.T, store *Store) *Conversation {
	t.Helper()
	deadline := time.Now().UTC().Add(30 * time.Minute)
	conv := &Conversation{
		OriginMessageID:  "msg_origin",
		State:            types.StateInitiated,
		AskerID:          "member_dev",
		AskerRole:        "developer",
		SquadID:          "squad_1",
		OrgID:            "org_1",
		ResponderID:      "member_lead",
		QuestionCategory: "default",
		Question:         "how do I run the migration?",
		DeadlineAt:       &deadline,
	}
	ev := &ConversationEvent{
		Type:      types.EventInitiated,
		FromState: types.StateInitiated,
		ToState:   types.StateInitiated,
		ActorID:   strPtr("member_dev"),
	}
	require.NoError(t, store.CreateConversation(context.Background(), conv, ev))
	return conv
}

func TestStore_CreateAndGetMember(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	m := &Member{SquadID: "squad_1", Role: "lead", Name: "Lead One", Active: true}
	require.NoError(t, store.CreateMember(ctx, m))
	assert.NotEmpty(t, m.ID)

	got, err := store.GetMember(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "lead", got.Role)

	_, err = store.GetMember(ctx, "member_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_FindActiveMember_OldestFirst(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	older := &Member{SquadID: "squad_1", Role: "lead", Active: true,
		CreatedAt: time.Now().UTC().Add(-time.Hour)}
	newer := &Member{SquadID: "squad_1", Role: "lead", Active: true,
		CreatedAt: time.Now().UTC()}
	inactive := &Member{SquadID: "squad_1", Role: "lead", Active: false,
		CreatedAt: time.Now().UTC().Add(-2 * time.Hour)}
	require.NoError(t, store.CreateMember(ctx, newer))
	require.NoError(t, store.CreateMember(ctx, older))
	require.NoError(t, store.CreateMember(ctx, inactive))

	got, err := store.FindActiveMember(ctx, "squad_1", "lead")
	require.NoError(t, err)
	assert.Equal(t, older.ID, got.ID)

	_, err = store.FindActiveMember(ctx, "squad_1", "architect")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_CreateRule_ScopeCheck(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	err := store.CreateRule(ctx, &RoutingRule{AskerRole: "developer", ResponderRole: "lead"})
	assert.ErrorIs(t, err, ErrBadScope)

	err = store.CreateRule(ctx, &RoutingRule{
		SquadID: strPtr("squad_1"), OrgID: strPtr("org_1"),
		AskerRole: "developer", ResponderRole: "lead",
	})
	assert.ErrorIs(t, err, ErrBadScope)

	r := &RoutingRule{SquadID: strPtr("squad_1"), AskerRole: "developer", ResponderRole: "lead", Active: true}
	require.NoError(t, store.CreateRule(ctx, r))
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, "default", r.QuestionCategory)
}

func TestStore_FindRule_TieBreaks(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	scope := Scope{SquadID: "squad_1", OrgID: "org_1"}

	orgRule := &RoutingRule{
		OrgID: strPtr("org_1"), AskerRole: "developer", QuestionCategory: "default",
		EscalationLevel: 0, ResponderRole: "org_lead", Active: true, Priority: 100,
	}
	require.NoError(t, store.CreateRule(ctx, orgRule))

	// Squad rules shadow org rules regardless of priority.
	squadLow := &RoutingRule{
		SquadID: strPtr("squad_1"), AskerRole: "developer", QuestionCategory: "default",
		EscalationLevel: 0, ResponderRole: "squad_lead", Active: true, Priority: 1,
		CreatedAt: time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, store.CreateRule(ctx, squadLow))

	got, err := store.FindRule(ctx, scope, "developer", "default", 0)
	require.NoError(t, err)
	assert.Equal(t, squadLow.ID, got.ID)

	// Higher priority wins within the same scope.
	squadHigh := &RoutingRule{
		SquadID: strPtr("squad_1"), AskerRole: "developer", QuestionCategory: "default",
		EscalationLevel: 0, ResponderRole: "senior_lead", Active: true, Priority: 10,
		CreatedAt: time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, store.CreateRule(ctx, squadHigh))

	got, err = store.FindRule(ctx, scope, "developer", "default", 0)
	require.NoError(t, err)
	assert.Equal(t, squadHigh.ID, got.ID)

	// Same priority: most recently created wins.
	squadNewer := &RoutingRule{
		SquadID: strPtr("squad_1"), AskerRole: "developer", QuestionCategory: "default",
		EscalationLevel: 0, ResponderRole: "newest_lead", Active: true, Priority: 10,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.CreateRule(ctx, squadNewer))

	got, err = store.FindRule(ctx, scope, "developer", "default", 0)
	require.NoError(t, err)
	assert.Equal(t, squadNewer.ID, got.ID)

	// Inactive rules never match.
	_, err = store.FindRule(ctx, scope, "developer", "default", 5)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_CreateConversation_VersionAndEvent(t *testing.T) {
	store := setupStore(t)
	conv := newTestConversation(t, store)

	assert.NotEmpty(t, conv.ID)
	assert.Equal(t, 1, conv.Version)

	tl, err := store.Timeline(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Len(t, tl.Events, 1)
	assert.Equal(t, types.EventInitiated, tl.Events[0].Type)
	assert.Equal(t, 1, tl.Events[0].Seq)
}

func TestStore_Mutate_BumpsVersionAndAppendsEvents(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	conv := newTestConversation(t, store)

	updated, err := store.Mutate(ctx, conv.ID, func(c *Conversation) ([]*ConversationEvent, error) {
		c.State = types.StateWaiting
		return []*ConversationEvent{{
			Type:      types.EventAcknowledged,
			FromState: types.StateInitiated,
			ToState:   types.StateWaiting,
		}}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, types.StateWaiting, updated.State)
	assert.Equal(t, 2, updated.Version)

	tl, err := store.Timeline(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, tl.Events, 2)
	assert.Equal(t, types.EventAcknowledged, tl.Events[1].Type)
	assert.Equal(t, 2, tl.Events[1].Seq)
}

func TestStore_Mutate_FnErrorAbortsEverything(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	conv := newTestConversation(t, store)

	_, err := store.Mutate(ctx, conv.ID, func(c *Conversation) ([]*ConversationEvent, error) {
		c.State = types.StateAnswered
		return nil, types.NewError(types.ErrInvalidState, "nope")
	})
	assert.True(t, types.IsCode(err, types.ErrInvalidState))

	got, err := store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateInitiated, got.State)
	assert.Equal(t, 1, got.Version)
}

func TestStore_Mutate_NotFound(t *testing.T) {
	store := setupStore(t)
	_, err := store.Mutate(context.Background(), "conv_missing", func(c *Conversation) ([]*ConversationEvent, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Mutate_ConcurrentWriters(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	conv := newTestConversation(t, store)

	// Two goroutines race to close the conversation differently. Exactly one
	// transition event must exist afterwards.
	var wg sync.WaitGroup
	outcomes := make([]error, 2)
	mutations := []types.ConversationState{types.StateAnswered, types.StateCancelled}
	for i, target := range mutations {
		wg.Add(1)
		go func(i int, target types.ConversationState) {
			defer wg.Done()
			_, err := store.Mutate(ctx, conv.ID, func(c *Conversation) ([]*ConversationEvent, error) {
				if c.Terminal() {
					return nil, types.NewError(types.ErrInvalidState, "already terminal")
				}
				eventType := types.EventAnswered
				if target == types.StateCancelled {
					eventType = types.EventCancelled
				}
				from := c.State
				c.State = target
				return []*ConversationEvent{{Type: eventType, FromState: from, ToState: target}}, nil
			})
			outcomes[i] = err
		}(i, target)
	}
	wg.Wait()

	failures := 0
	for _, err := range outcomes {
		if err != nil {
			failures++
			ok := types.IsCode(err, types.ErrInvalidState) || errors.Is(err, ErrStaleState)
			assert.True(t, ok, "unexpected loser error: %v", err)
		}
	}
	assert.Equal(t, 1, failures, "exactly one writer must lose")

	got, err := store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, got.Terminal())
	assert.Equal(t, 2, got.Version)

	tl, err := store.Timeline(ctx, conv.ID)
	require.NoError(t, err)
	assert.Len(t, tl.Events, 2) // initiated plus exactly one close-out
}

func TestStore_AppendEvent(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	conv := newTestConversation(t, store)

	err := store.AppendEvent(ctx, &ConversationEvent{
		ConversationID: conv.ID,
		Type:           types.EventFollowUpSent,
		FromState:      types.StateFollowUp,
		ToState:        types.StateFollowUp,
		MessageID:      strPtr("msg_reminder"),
	})
	require.NoError(t, err)

	n, err := store.CountEvents(ctx, conv.ID, types.EventFollowUpSent)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	err = store.AppendEvent(ctx, &ConversationEvent{ConversationID: "conv_missing", Type: types.EventTimeout})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ListDue(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	mk := func(state types.ConversationState, deadline *time.Time) *Conversation {
		c := &Conversation{
			State: state, AskerID: "a", AskerRole: "developer",
			SquadID: "squad_1", OrgID: "org_1", ResponderID: "r",
			QuestionCategory: "default", Question: "q", DeadlineAt: deadline,
		}
		ev := &ConversationEvent{Type: types.EventInitiated, FromState: state, ToState: state}
		require.NoError(t, store.CreateConversation(ctx, c, ev))
		return c
	}

	past := now.Add(-time.Minute)
	older := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	overdueInitiated := mk(types.StateInitiated, &older)
	overdueWaiting := mk(types.StateWaiting, &past)
	mk(types.StateFollowUp, &future)       // not yet due
	mk(types.StateEscalated, &older)       // escalated is never swept
	mk(types.StateAnswered, nil)           // terminal
	mk(types.StateInitiated, nil)          // no deadline

	due, err := store.ListDue(ctx, now, 0)
	require.NoError(t, err)
	require.Len(t, due, 2)
	// Oldest deadline first.
	assert.Equal(t, overdueInitiated.ID, due[0].ID)
	assert.Equal(t, overdueWaiting.ID, due[1].ID)

	limited, err := store.ListDue(ctx, now, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestStore_PurgeTerminal(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	old := now.Add(-48 * time.Hour)

	mk := func(state types.ConversationState, resolvedAt *time.Time) *Conversation {
		c := &Conversation{
			State: state, AskerID: "a", AskerRole: "developer",
			SquadID: "squad_1", OrgID: "org_1", ResponderID: "r",
			QuestionCategory: "default", Question: "q", ResolvedAt: resolvedAt,
		}
		ev := &ConversationEvent{Type: types.EventInitiated, FromState: state, ToState: state}
		require.NoError(t, store.CreateConversation(ctx, c, ev))
		return c
	}

	purged := mk(types.StateAnswered, &old)
	keptRecent := mk(types.StateAnswered, &now)
	keptLive := mk(types.StateWaiting, nil)

	n, err := store.PurgeTerminal(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = store.GetConversation(ctx, purged.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetConversation(ctx, keptRecent.ID)
	assert.NoError(t, err)
	_, err = store.GetConversation(ctx, keptLive.ID)
	assert.NoError(t, err)

	// Events of the purged conversation are gone too.
	n64, err := store.CountEvents(ctx, purged.ID, types.EventInitiated)
	require.NoError(t, err)
	assert.Zero(t, n64)
}
