// Package squadflow wires the routing resolver, conversation state machine,
// escalation engine, and deadline sweeper into one entry point for embedding
// hierarchical question routing in an agent runtime.
//
// Usage:
//
//	import "github.com/BaSui01/squadflow"
//
//	sys, err := squadflow.New(squadflow.Options{DB: db, Messenger: m})
//	conv, err := sys.InitiateQuestion(ctx, squadflow.Question{...})
//
// All collaborators are injected through [Options]; the package keeps no
// global state, so independent systems can share a process.
package squadflow

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/squadflow/conversation"
	"github.com/BaSui01/squadflow/escalation"
	"github.com/BaSui01/squadflow/messaging"
	"github.com/BaSui01/squadflow/persistence"
	"github.com/BaSui01/squadflow/routing"
	"github.com/BaSui01/squadflow/sweeper"
)

// Options configures a System. DB and Messenger are required; zero-value
// durations fall back to engine defaults.
type Options struct {
	DB        *gorm.DB
	Messenger messaging.Messenger
	Logger    *zap.Logger

	// AutoMigrate creates or updates the schema during New.
	AutoMigrate bool

	InitialTimeout      time.Duration
	FollowUpTimeout     time.Duration
	EscalationTimeout   time.Duration
	MaxRetries          int
	MaxEscalationLevels int
	SweepConcurrency    int
	SweepBatchLimit     int
}

// System is the assembled engine.
type System struct {
	store        *persistence.Store
	resolver     *routing.Resolver
	conversation *conversation.Engine
	escalation   *escalation.Engine
	sweeper      *sweeper.Sweeper
}

// New assembles a System from its collaborators.
func New(opts Options) (*System, error) {
	if opts.DB == nil {
		return nil, errors.New("squadflow: DB is required")
	}
	if opts.Messenger == nil {
		return nil, errors.New("squadflow: Messenger is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	store := persistence.NewStore(opts.DB, logger)
	if opts.AutoMigrate {
		if err := store.AutoMigrate(); err != nil {
			return nil, err
		}
	}

	resolver := routing.NewResolver(store, logger)
	convEngine := conversation.NewEngine(store, resolver, opts.Messenger, conversation.Config{
		InitialTimeout:  opts.InitialTimeout,
		FollowUpTimeout: opts.FollowUpTimeout,
	}, logger)
	escEngine := escalation.NewEngine(store, resolver, opts.Messenger, escalation.Config{
		ResponseTimeout: opts.EscalationTimeout,
		MaxLevels:       opts.MaxEscalationLevels,
	}, logger)

	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = sweeper.DefaultConfig().MaxRetries
	}
	sw := sweeper.New(store, convEngine, escEngine, sweeper.Config{
		MaxRetries:  maxRetries,
		Concurrency: opts.SweepConcurrency,
		BatchLimit:  opts.SweepBatchLimit,
	}, nil, logger)

	return &System{
		store:        store,
		resolver:     resolver,
		conversation: convEngine,
		escalation:   escEngine,
		sweeper:      sw,
	}, nil
}

// Store exposes the persistence layer for squad, member, and rule management.
func (s *System) Store() *persistence.Store { return s.store }

// Sweeper exposes the deadline sweeper, for embedding in a scheduler.
func (s *System) Sweeper() *sweeper.Sweeper { return s.sweeper }

// Question is the input to InitiateQuestion.
type Question struct {
	AskerID          string
	AskerRole        string
	SquadID          string
	OrgID            string
	QuestionCategory string
	Content          string
	TaskContextID    *string
	Metadata         map[string]any
}

// InitiateQuestion routes a question to its level-0 responder, delivers it,
// and starts tracking the conversation.
func (s *System) InitiateQuestion(ctx context.Context, q Question) (*persistence.Conversation, error) {
	return s.conversation.Initiate(ctx, conversation.InitiateOptions{
		AskerID:          q.AskerID,
		AskerRole:        q.AskerRole,
		Scope:            persistence.Scope{SquadID: q.SquadID, OrgID: q.OrgID},
		QuestionCategory: q.QuestionCategory,
		Question:         q.Content,
		TaskContextID:    q.TaskContextID,
		Metadata:         q.Metadata,
	})
}

// AcknowledgeConversation marks a conversation as being worked on and resets
// its deadline.
func (s *System) AcknowledgeConversation(ctx context.Context, conversationID, responderID, customMessage string) (*persistence.Conversation, error) {
	return s.conversation.Acknowledge(ctx, conversationID, responderID, customMessage)
}

// AnswerConversation resolves a conversation with an answer.
func (s *System) AnswerConversation(ctx context.Context, conversationID, responderID, answer string) (*persistence.Conversation, error) {
	return s.conversation.Answer(ctx, conversationID, responderID, answer)
}

// CancelConversation closes a conversation without an answer.
func (s *System) CancelConversation(ctx context.Context, conversationID, cancelledBy, reason string) (*persistence.Conversation, error) {
	return s.conversation.Cancel(ctx, conversationID, cancelledBy, reason)
}

// EscalateConversation forces an escalation to the next level.
func (s *System) EscalateConversation(ctx context.Context, conversationID, reason string) (*escalation.Result, error) {
	return s.escalation.Escalate(ctx, conversationID, reason)
}

// RequestReroute processes a responder's cant-help declaration, optionally
// handing the question laterally to another role.
func (s *System) RequestReroute(ctx context.Context, conversationID, responderID, targetRole, reason string) (*escalation.Result, error) {
	return s.escalation.HandleCantHelp(ctx, conversationID, responderID, targetRole, reason)
}

// ConversationTimeline returns a conversation with its full event history.
func (s *System) ConversationTimeline(ctx context.Context, conversationID string) (*persistence.Timeline, error) {
	return s.conversation.Timeline(ctx, conversationID)
}

// EscalationChain resolves the full chain a question would follow, without
// touching any conversation.
func (s *System) EscalationChain(ctx context.Context, squadID, orgID, askerRole, category string) ([]routing.ChainStep, error) {
	scope := persistence.Scope{SquadID: squadID, OrgID: orgID}
	return s.resolver.EscalationChain(ctx, scope, askerRole, category, s.escalation.MaxLevels())
}

// ValidateRoutingConfig reports configuration warnings for a scope.
func (s *System) ValidateRoutingConfig(ctx context.Context, squadID, orgID string) ([]routing.Warning, error) {
	return routing.Validate(ctx, s.store, persistence.Scope{SquadID: squadID, OrgID: orgID})
}

// ApplyRoutingTemplate creates a built-in template's rules in a scope.
func (s *System) ApplyRoutingTemplate(ctx context.Context, squadID, orgID, name string) ([]persistence.RoutingRule, error) {
	return routing.ApplyTemplate(ctx, s.store, persistence.Scope{SquadID: squadID, OrgID: orgID}, name)
}

// Sweep runs one deadline sweep immediately.
func (s *System) Sweep(ctx context.Context) (*sweeper.Stats, error) {
	return s.sweeper.Sweep(ctx)
}
