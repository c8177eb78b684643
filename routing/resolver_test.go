package routing

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"pgregory.net/rapid"

	"github.com/BaSui01/squadflow/persistence"
)

func setupStore(t *testing.T) *persistence.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	// A single connection keeps every session on the same in-memory database.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	store := persistence.NewStore(db, nil)
	require.NoError(t, store.AutoMigrate())
	return store
}

func strPtr(s string) *string { return &s }

func addMember(t *testing.T, store *persistence.Store, squadID, role string, active bool) *persistence.Member {
	t.Helper()
	m := &persistence.Member{SquadID: squadID, Role: role, Active: active}
	require.NoError(t, store.CreateMember(context.Background(), m))
	return m
}

func addSquadRule(t *testing.T, store *persistence.Store, squadID, askerRole, category string, level int, responderRole string) *persistence.RoutingRule {
	t.Helper()
	r := &persistence.RoutingRule{
		SquadID:          strPtr(squadID),
		AskerRole:        askerRole,
		QuestionCategory: category,
		EscalationLevel:  level,
		ResponderRole:    responderRole,
		Active:           true,
		Priority:         10,
	}
	require.NoError(t, store.CreateRule(context.Background(), r))
	return r
}

func TestResolver_Resolve_RoleLookup(t *testing.T) {
	store := setupStore(t)
	resolver := NewResolver(store, nil)
	ctx := context.Background()
	scope := persistence.Scope{SquadID: "squad_1", OrgID: "org_1"}

	lead := addMember(t, store, "squad_1", "lead", true)
	rule := addSquadRule(t, store, "squad_1", "developer", "default", 0, "lead")

	got, err := resolver.Resolve(ctx, scope, "developer", "default", 0)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, lead.ID, got.MemberID)
	assert.Equal(t, "lead", got.Role)
	assert.Equal(t, rule.ID, got.RuleID)
	assert.False(t, got.Direct)
	assert.Zero(t, got.Level)
}

func TestResolver_Resolve_DefaultCategoryFallback(t *testing.T) {
	store := setupStore(t)
	resolver := NewResolver(store, nil)
	ctx := context.Background()
	scope := persistence.Scope{SquadID: "squad_1", OrgID: "org_1"}

	addMember(t, store, "squad_1", "lead", true)
	addSquadRule(t, store, "squad_1", "developer", "default", 0, "lead")

	// No "design" rule exists; lookup falls back to the default category.
	got, err := resolver.Resolve(ctx, scope, "developer", "design", 0)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "lead", got.Role)

	// An empty category resolves as default directly.
	got, err = resolver.Resolve(ctx, scope, "developer", "", 0)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestResolver_Resolve_SpecificCategoryBeatsDefault(t *testing.T) {
	store := setupStore(t)
	resolver := NewResolver(store, nil)
	ctx := context.Background()
	scope := persistence.Scope{SquadID: "squad_1", OrgID: "org_1"}

	addMember(t, store, "squad_1", "lead", true)
	addMember(t, store, "squad_1", "architect", true)
	addSquadRule(t, store, "squad_1", "developer", "default", 0, "lead")
	addSquadRule(t, store, "squad_1", "developer", "design", 0, "architect")

	got, err := resolver.Resolve(ctx, scope, "developer", "design", 0)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "architect", got.Role)
}

func TestResolver_Resolve_DeadEnds(t *testing.T) {
	store := setupStore(t)
	resolver := NewResolver(store, nil)
	ctx := context.Background()
	scope := persistence.Scope{SquadID: "squad_1", OrgID: "org_1"}

	// No rule at all.
	got, err := resolver.Resolve(ctx, scope, "developer", "default", 0)
	require.NoError(t, err)
	assert.Nil(t, got)

	// Rule exists but no active member holds the role.
	addSquadRule(t, store, "squad_1", "developer", "default", 0, "lead")
	addMember(t, store, "squad_1", "lead", false)
	got, err = resolver.Resolve(ctx, scope, "developer", "default", 0)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestResolver_Resolve_DirectResponder(t *testing.T) {
	store := setupStore(t)
	resolver := NewResolver(store, nil)
	ctx := context.Background()
	scope := persistence.Scope{SquadID: "squad_1", OrgID: "org_1"}

	// Two leads exist; the rule pins the newer one explicitly.
	addMember(t, store, "squad_1", "lead", true)
	pinned := addMember(t, store, "squad_1", "lead", true)

	r := &persistence.RoutingRule{
		SquadID:          strPtr("squad_1"),
		AskerRole:        "developer",
		QuestionCategory: "default",
		EscalationLevel:  0,
		ResponderRole:    "lead",
		ResponderID:      &pinned.ID,
		Active:           true,
	}
	require.NoError(t, store.CreateRule(ctx, r))

	got, err := resolver.Resolve(ctx, scope, "developer", "default", 0)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, pinned.ID, got.MemberID)
	assert.True(t, got.Direct)
}

func TestResolver_Resolve_DirectResponderInactive(t *testing.T) {
	store := setupStore(t)
	resolver := NewResolver(store, nil)
	ctx := context.Background()
	scope := persistence.Scope{SquadID: "squad_1", OrgID: "org_1"}

	gone := addMember(t, store, "squad_1", "lead", false)
	r := &persistence.RoutingRule{
		SquadID:          strPtr("squad_1"),
		AskerRole:        "developer",
		QuestionCategory: "default",
		EscalationLevel:  0,
		ResponderRole:    "lead",
		ResponderID:      &gone.ID,
		Active:           true,
	}
	require.NoError(t, store.CreateRule(ctx, r))

	got, err := resolver.Resolve(ctx, scope, "developer", "default", 0)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestResolver_EscalationChain(t *testing.T) {
	store := setupStore(t)
	resolver := NewResolver(store, nil)
	ctx := context.Background()
	scope := persistence.Scope{SquadID: "squad_1", OrgID: "org_1"}

	addMember(t, store, "squad_1", "lead", true)
	addMember(t, store, "squad_1", "architect", true)
	addSquadRule(t, store, "squad_1", "developer", "default", 0, "lead")
	addSquadRule(t, store, "squad_1", "developer", "default", 1, "architect")
	// Level 2 rule exists but nobody holds the role: the chain stops there.
	addSquadRule(t, store, "squad_1", "developer", "default", 2, "engineering_manager")

	chain, err := resolver.EscalationChain(ctx, scope, "developer", "default", 10)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, 0, chain[0].Level)
	assert.Equal(t, "lead", chain[0].Responder.Role)
	assert.Equal(t, 1, chain[1].Level)
	assert.Equal(t, "architect", chain[1].Responder.Role)
}

// Chain levels are contiguous from zero and strictly increasing, whatever
// subset of levels carries rules.
func TestResolver_EscalationChain_LevelMonotonicity(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		store := setupStore(t)
		resolver := NewResolver(store, nil)
		ctx := context.Background()
		scope := persistence.Scope{SquadID: "squad_1", OrgID: "org_1"}

		levels := rapid.SliceOfNDistinct(rapid.IntRange(0, 6), 1, 7, rapid.ID[int]).Draw(rt, "levels")
		for _, level := range levels {
			role := fmt.Sprintf("role_%d", level)
			addMember(t, store, "squad_1", role, true)
			addSquadRule(t, store, "squad_1", "developer", "default", level, role)
		}

		chain, err := resolver.EscalationChain(ctx, scope, "developer", "default", 10)
		require.NoError(rt, err)

		for i, step := range chain {
			assert.Equal(rt, i, step.Level)
			require.NotNil(rt, step.Responder)
		}

		// The chain length equals the count of contiguous levels from zero.
		want := 0
		present := make(map[int]bool, len(levels))
		for _, l := range levels {
			present[l] = true
		}
		for present[want] {
			want++
		}
		assert.Len(rt, chain, want)
	})
}

func TestResolver_Resolve_SquadRuleShadowsOrg(t *testing.T) {
	store := setupStore(t)
	resolver := NewResolver(store, nil)
	ctx := context.Background()
	scope := persistence.Scope{SquadID: "squad_1", OrgID: "org_1"}

	addMember(t, store, "squad_1", "lead", true)
	addMember(t, store, "squad_1", "org_oncall", true)

	orgRule := &persistence.RoutingRule{
		OrgID: strPtr("org_1"), AskerRole: "developer", QuestionCategory: "default",
		EscalationLevel: 0, ResponderRole: "org_oncall", Active: true, Priority: 100,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.CreateRule(ctx, orgRule))
	addSquadRule(t, store, "squad_1", "developer", "default", 0, "lead")

	got, err := resolver.Resolve(ctx, scope, "developer", "default", 0)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "lead", got.Role)
}
