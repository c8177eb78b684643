package persistence

import (
	"time"

	"github.com/BaSui01/squadflow/types"
)

// Squad is a named group of agents collaborating on a project.
type Squad struct {
	ID        string    `json:"id" gorm:"primaryKey;size:64"`
	OrgID     string    `json:"org_id" gorm:"size:64;index"`
	Name      string    `json:"name" gorm:"size:255"`
	CreatedAt time.Time `json:"created_at"`
}

// Member is an agent belonging to a squad, addressable by role.
type Member struct {
	ID        string    `json:"id" gorm:"primaryKey;size:64"`
	SquadID   string    `json:"squad_id" gorm:"size:64;index:idx_member_squad_role"`
	Role      string    `json:"role" gorm:"size:128;index:idx_member_squad_role"`
	Name      string    `json:"name" gorm:"size:255"`
	Active    bool      `json:"active" gorm:"index"`
	CreatedAt time.Time `json:"created_at"`
}

// RoutingRule maps (asker role, question category, escalation level) to a
// responder role or a specific responder. Exactly one of SquadID / OrgID is
// set; squad-scoped rules shadow organization-scoped ones.
type RoutingRule struct {
	ID      string  `json:"id" gorm:"primaryKey;size:64"`
	SquadID *string `json:"squad_id,omitempty" gorm:"size:64;index"`
	OrgID   *string `json:"org_id,omitempty" gorm:"size:64;index"`

	AskerRole        string `json:"asker_role" gorm:"size:128;index:idx_rule_match"`
	QuestionCategory string `json:"question_category" gorm:"size:128;index:idx_rule_match"`
	EscalationLevel  int    `json:"escalation_level" gorm:"index:idx_rule_match"`

	ResponderRole string  `json:"responder_role" gorm:"size:128"`
	// ResponderID, when set, bypasses role-based member lookup.
	ResponderID *string `json:"responder_id,omitempty" gorm:"size:64"`

	Active   bool           `json:"active"`
	Priority int            `json:"priority"`
	Metadata map[string]any `json:"metadata,omitempty" gorm:"serializer:json"`

	CreatedAt time.Time `json:"created_at"`
}

// Conversation is one question's full lifecycle from initiation to terminal
// resolution. Version implements the optimistic write guard; it bumps on
// every committed mutation.
type Conversation struct {
	ID              string                  `json:"id" gorm:"primaryKey;size:64"`
	OriginMessageID string                  `json:"origin_message_id" gorm:"size:64"`
	State           types.ConversationState `json:"state" gorm:"size:32;index:idx_conv_due"`

	AskerID     string `json:"asker_id" gorm:"size:64;index"`
	AskerRole   string `json:"asker_role" gorm:"size:128"`
	SquadID     string `json:"squad_id" gorm:"size:64;index"`
	OrgID       string `json:"org_id" gorm:"size:64"`
	ResponderID string `json:"responder_id" gorm:"size:64;index"`

	EscalationLevel  int    `json:"escalation_level"`
	QuestionCategory string `json:"question_category" gorm:"size:128"`
	Question         string `json:"question" gorm:"type:text"`

	TaskContextID *string        `json:"task_context_id,omitempty" gorm:"size:64"`
	Metadata      map[string]any `json:"metadata,omitempty" gorm:"serializer:json"`

	Version int `json:"version"`

	CreatedAt      time.Time  `json:"created_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	// DeadlineAt is nil once the conversation is terminal.
	DeadlineAt *time.Time `json:"deadline_at,omitempty" gorm:"index:idx_conv_due"`
}

// Terminal reports whether the conversation reached a terminal state.
func (c *Conversation) Terminal() bool {
	return c.State.Terminal()
}

// ConversationEvent is one append-only audit row. Events are never edited or
// removed; for a single conversation they are strictly ordered by (CreatedAt,
// Seq).
type ConversationEvent struct {
	ID             string                  `json:"id" gorm:"primaryKey;size:64"`
	ConversationID string                  `json:"conversation_id" gorm:"size:64;index:idx_event_conv"`
	// Seq is assigned from the conversation's post-mutation version so that
	// events within one millisecond still order deterministically.
	Seq       int                     `json:"seq" gorm:"index:idx_event_conv"`
	Type      types.EventType         `json:"type" gorm:"size:32"`
	FromState types.ConversationState `json:"from_state" gorm:"size:32"`
	ToState   types.ConversationState `json:"to_state" gorm:"size:32"`

	// MessageID references the outbound message that accompanied the event,
	// when one exists.
	MessageID *string `json:"message_id,omitempty" gorm:"size:64"`
	// ActorID is the triggering agent; nil means system-triggered.
	ActorID *string        `json:"actor_id,omitempty" gorm:"size:64"`
	Data    map[string]any `json:"data,omitempty" gorm:"serializer:json"`

	CreatedAt time.Time `json:"created_at"`
}

// Timeline is the read-only projection of a conversation plus its ordered
// events, as returned to observability/UI layers.
type Timeline struct {
	Conversation *Conversation       `json:"conversation"`
	Events       []ConversationEvent `json:"events"`
}
