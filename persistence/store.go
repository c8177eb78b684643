package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/squadflow/types"
)

// Common errors
var (
	ErrNotFound   = errors.New("not found")
	ErrStaleState = errors.New("stale conversation state")
	ErrBadScope   = errors.New("exactly one of squad_id and org_id must be set")
)

// Scope identifies where a routing lookup happens: the asker's squad and the
// organization it belongs to.
type Scope struct {
	SquadID string
	OrgID   string
}

// Store provides transactional access to squads, members, routing rules,
// conversations, and conversation events.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStore creates a store over an open gorm connection.
func NewStore(db *gorm.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:     db,
		logger: logger.With(zap.String("component", "store")),
	}
}

// DB exposes the underlying gorm handle for migration tooling.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// AutoMigrate creates or updates the schema for all SquadFlow tables.
func (s *Store) AutoMigrate() error {
	err := s.db.AutoMigrate(
		&Squad{},
		&Member{},
		&RoutingRule{},
		&Conversation{},
		&ConversationEvent{},
	)
	if err != nil {
		return fmt.Errorf("failed to auto migrate: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// ---------------------------------------------------------------------------
// Squads and members
// ---------------------------------------------------------------------------

// CreateSquad inserts a squad, generating an ID when absent.
func (s *Store) CreateSquad(ctx context.Context, squad *Squad) error {
	if squad.ID == "" {
		squad.ID = "squad_" + uuid.NewString()
	}
	return s.db.WithContext(ctx).Create(squad).Error
}

// CreateMember inserts a member, generating an ID when absent.
func (s *Store) CreateMember(ctx context.Context, m *Member) error {
	if m.ID == "" {
		m.ID = "member_" + uuid.NewString()
	}
	return s.db.WithContext(ctx).Create(m).Error
}

// GetMember loads a member by ID.
func (s *Store) GetMember(ctx context.Context, id string) (*Member, error) {
	var m Member
	err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// FindActiveMember returns the first active member holding a role within a
// squad, oldest membership first so lookups are deterministic.
func (s *Store) FindActiveMember(ctx context.Context, squadID, role string) (*Member, error) {
	var m Member
	err := s.db.WithContext(ctx).
		Where("squad_id = ? AND role = ? AND active = ?", squadID, role, true).
		Order("created_at ASC").
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ---------------------------------------------------------------------------
// Routing rules
// ---------------------------------------------------------------------------

// CreateRule inserts a routing rule. Exactly one of SquadID / OrgID must be
// set.
func (s *Store) CreateRule(ctx context.Context, r *RoutingRule) error {
	if (r.SquadID == nil) == (r.OrgID == nil) {
		return ErrBadScope
	}
	if r.ID == "" {
		r.ID = "rule_" + uuid.NewString()
	}
	if r.QuestionCategory == "" {
		r.QuestionCategory = "default"
	}
	return s.db.WithContext(ctx).Create(r).Error
}

// FindRule returns the best matching active rule for (scope, askerRole,
// category, level). Tie-break order: squad-scoped before organization-scoped,
// then higher priority, then most recently created.
func (s *Store) FindRule(ctx context.Context, scope Scope, askerRole, category string, level int) (*RoutingRule, error) {
	var r RoutingRule
	err := s.db.WithContext(ctx).
		Where("asker_role = ? AND question_category = ? AND escalation_level = ? AND active = ?",
			askerRole, category, level, true).
		Where("squad_id = ? OR org_id = ?", scope.SquadID, scope.OrgID).
		Order("CASE WHEN squad_id IS NOT NULL THEN 0 ELSE 1 END").
		Order("priority DESC").
		Order("created_at DESC").
		First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRules returns all rules visible in a scope (squad plus organization),
// for validation tooling. Inactive rules are included.
func (s *Store) ListRules(ctx context.Context, scope Scope) ([]RoutingRule, error) {
	var rules []RoutingRule
	err := s.db.WithContext(ctx).
		Where("squad_id = ? OR org_id = ?", scope.SquadID, scope.OrgID).
		Order("asker_role ASC").
		Order("question_category ASC").
		Order("escalation_level ASC").
		Find(&rules).Error
	if err != nil {
		return nil, err
	}
	return rules, nil
}

// ---------------------------------------------------------------------------
// Conversations
// ---------------------------------------------------------------------------

// CreateConversation inserts a conversation and its initiating event in one
// transaction. Version starts at 1.
func (s *Store) CreateConversation(ctx context.Context, c *Conversation, ev *ConversationEvent) error {
	if c.ID == "" {
		c.ID = "conv_" + uuid.NewString()
	}
	c.Version = 1
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(c).Error; err != nil {
			return fmt.Errorf("failed to create conversation: %w", err)
		}
		fillEvent(ev, c.ID, c.Version)
		if err := tx.Create(ev).Error; err != nil {
			return fmt.Errorf("failed to append event: %w", err)
		}
		return nil
	})
}

// GetConversation loads a conversation by ID.
func (s *Store) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var c Conversation
	err := s.db.WithContext(ctx).First(&c, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// MutateFunc inspects and mutates a freshly-loaded conversation row and
// returns the audit events describing the mutation. Returning an error
// aborts the transaction; nothing is written.
type MutateFunc func(c *Conversation) ([]*ConversationEvent, error)

// Mutate runs one atomic read-modify-write on a conversation: the row is
// locked for the duration of the transaction, the version column guards
// against a racing writer that slipped in before the lock was taken, and all
// events are appended in the same transaction. A lost race returns
// ErrStaleState.
func (s *Store) Mutate(ctx context.Context, id string, fn MutateFunc) (*Conversation, error) {
	var out *Conversation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx
		// SQLite has no FOR UPDATE; its single-writer transactions already
		// serialize conflicting mutations.
		if tx.Dialector.Name() != "sqlite" {
			q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}

		var c Conversation
		if err := q.First(&c, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		prevVersion := c.Version
		events, err := fn(&c)
		if err != nil {
			return err
		}

		c.Version = prevVersion + 1
		res := tx.Model(&Conversation{}).
			Where("id = ? AND version = ?", id, prevVersion).
			Select("*").
			Omit("id", "created_at").
			Updates(&c)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrStaleState
		}

		now := time.Now().UTC()
		for i, ev := range events {
			// Spread stamps so multiple events from one mutation keep a
			// strict order even on millisecond-precision columns.
			ev.CreatedAt = now.Add(time.Duration(i) * time.Millisecond)
			fillEvent(ev, c.ID, c.Version)
			if err := tx.Create(ev).Error; err != nil {
				return fmt.Errorf("failed to append event: %w", err)
			}
		}

		out = &c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AppendEvent records a non-transition audit event outside Mutate, e.g. the
// follow_up_sent entry referencing an already-delivered reminder.
func (s *Store) AppendEvent(ctx context.Context, ev *ConversationEvent) error {
	var c Conversation
	err := s.db.WithContext(ctx).
		Select("id", "version").
		First(&c, "id = ?", ev.ConversationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	fillEvent(ev, c.ID, c.Version)
	return s.db.WithContext(ctx).Create(ev).Error
}

// Timeline loads a conversation and its events in append order.
func (s *Store) Timeline(ctx context.Context, id string) (*Timeline, error) {
	c, err := s.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	var events []ConversationEvent
	err = s.db.WithContext(ctx).
		Where("conversation_id = ?", id).
		Order("seq ASC").
		Order("created_at ASC").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return &Timeline{Conversation: c, Events: events}, nil
}

// CountEvents counts events of one type for a conversation.
func (s *Store) CountEvents(ctx context.Context, conversationID string, t types.EventType) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&ConversationEvent{}).
		Where("conversation_id = ? AND type = ?", conversationID, t).
		Count(&n).Error
	return n, err
}

// ListDue returns conversations whose deadline has passed and whose state the
// sweeper considers, oldest deadline first. limit <= 0 means no limit.
func (s *Store) ListDue(ctx context.Context, now time.Time, limit int) ([]Conversation, error) {
	states := []types.ConversationState{
		types.StateInitiated,
		types.StateWaiting,
		types.StateFollowUp,
	}
	q := s.db.WithContext(ctx).
		Where("deadline_at IS NOT NULL AND deadline_at <= ?", now).
		Where("state IN ?", states).
		Order("deadline_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var due []Conversation
	if err := q.Find(&due).Error; err != nil {
		return nil, err
	}
	return due, nil
}

// PurgeTerminal deletes terminal-state conversations (and their events) whose
// resolution time predates the cutoff. Rows that never stamped a resolution
// fall back to their creation time. Live conversations are never touched.
func (s *Store) PurgeTerminal(ctx context.Context, olderThan time.Time) (int64, error) {
	terminal := []types.ConversationState{
		types.StateAnswered,
		types.StateCancelled,
		types.StateUnresolvable,
	}
	var purged int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		err := tx.Model(&Conversation{}).
			Where("state IN ?", terminal).
			Where("COALESCE(resolved_at, created_at) < ?", olderThan).
			Pluck("id", &ids).Error
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("conversation_id IN ?", ids).Delete(&ConversationEvent{}).Error; err != nil {
			return err
		}
		res := tx.Where("id IN ?", ids).Delete(&Conversation{})
		if res.Error != nil {
			return res.Error
		}
		purged = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		s.logger.Info("purged terminal conversations", zap.Int64("count", purged))
	}
	return purged, nil
}

func fillEvent(ev *ConversationEvent, conversationID string, seq int) {
	if ev.ID == "" {
		ev.ID = "evt_" + uuid.NewString()
	}
	ev.ConversationID = conversationID
	ev.Seq = seq
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
}
