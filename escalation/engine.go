package escalation

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/squadflow/messaging"
	"github.com/BaSui01/squadflow/persistence"
	"github.com/BaSui01/squadflow/routing"
	"github.com/BaSui01/squadflow/templates"
	"github.com/BaSui01/squadflow/types"
)

// Outcome classifies what an escalation attempt did.
type Outcome string

const (
	// OutcomeEscalated: a higher-level responder took over.
	OutcomeEscalated Outcome = "escalated"
	// OutcomeUnresolvable: the chain was exhausted; the conversation closed.
	OutcomeUnresolvable Outcome = "unresolvable"
	// OutcomeRerouted: a lateral hand-off to another role at the same level.
	OutcomeRerouted Outcome = "rerouted"
	// OutcomeRerouteFailed: the requested lateral target does not exist; the
	// conversation is unchanged apart from the cant_help audit entry.
	OutcomeRerouteFailed Outcome = "reroute_failed"
)

// Result describes a committed escalation or hand-off.
type Result struct {
	Outcome      Outcome
	Conversation *persistence.Conversation
	// NewResponderID is set for escalated and rerouted outcomes.
	NewResponderID string
	// Level is the conversation's escalation level after the operation.
	Level int
}

// Config controls escalation behavior.
type Config struct {
	// ResponseTimeout is the fresh deadline granted to a newly assigned
	// responder.
	ResponseTimeout time.Duration `json:"response_timeout" yaml:"response_timeout"`
	// MaxLevels caps how far EscalationChain-style walks go; Escalate itself
	// stops wherever the rules run out.
	MaxLevels int `json:"max_levels" yaml:"max_levels"`
}

// DefaultConfig returns the default escalation configuration.
func DefaultConfig() Config {
	return Config{
		ResponseTimeout: 30 * time.Minute,
		MaxLevels:       10,
	}
}

// Engine escalates and reroutes conversations. Like the conversation engine
// it is stateless between calls; every operation is one store mutation.
type Engine struct {
	store     *persistence.Store
	resolver  *routing.Resolver
	messenger messaging.Messenger
	cfg       Config
	logger    *zap.Logger
}

// NewEngine creates an escalation engine.
func NewEngine(store *persistence.Store, resolver *routing.Resolver, messenger messaging.Messenger, cfg Config, logger *zap.Logger) *Engine {
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = DefaultConfig().ResponseTimeout
	}
	if cfg.MaxLevels <= 0 {
		cfg.MaxLevels = DefaultConfig().MaxLevels
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:     store,
		resolver:  resolver,
		messenger: messenger,
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "escalation")),
	}
}

// MaxLevels returns the configured escalation chain cap.
func (e *Engine) MaxLevels() int {
	return e.cfg.MaxLevels
}

// Escalate moves a conversation to the next escalation level. The next level's
// responder is resolved before the transaction; inside it the conversation is
// re-checked, so a racing answer wins cleanly. When no responder exists at the
// next level the conversation terminates as unresolvable and the asker is
// told why.
func (e *Engine) Escalate(ctx context.Context, conversationID, reason string) (*Result, error) {
	conv, err := e.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, e.wrapStoreErr(err, "escalate")
	}
	if conv.Terminal() {
		return nil, types.Errorf(types.ErrInvalidState,
			"conversation %s is already %s", conv.ID, conv.State)
	}

	scope := persistence.Scope{SquadID: conv.SquadID, OrgID: conv.OrgID}
	nextLevel := conv.EscalationLevel + 1
	next, err := e.resolver.Resolve(ctx, scope, conv.AskerRole, conv.QuestionCategory, nextLevel)
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "responder resolution failed").WithCause(err)
	}
	if next == nil {
		return e.markUnresolvable(ctx, conversationID, reason, nextLevel)
	}

	var prevResponder string
	updated, err := e.store.Mutate(ctx, conversationID, func(c *persistence.Conversation) ([]*persistence.ConversationEvent, error) {
		if c.Terminal() {
			return nil, types.Errorf(types.ErrInvalidState,
				"conversation %s is already %s", c.ID, c.State)
		}
		if c.EscalationLevel+1 != nextLevel {
			// Someone escalated between our read and this lock.
			return nil, persistence.ErrStaleState
		}
		now := time.Now().UTC()
		deadline := now.Add(e.cfg.ResponseTimeout)
		from := c.State
		prevResponder = c.ResponderID
		c.State = types.StateEscalated
		c.ResponderID = next.MemberID
		c.EscalationLevel = nextLevel
		c.DeadlineAt = &deadline

		return []*persistence.ConversationEvent{{
			Type:      types.EventEscalated,
			FromState: from,
			ToState:   c.State,
			Data: map[string]any{
				"reason":         reason,
				"from_responder": prevResponder,
				"to_responder":   next.MemberID,
				"level":          nextLevel,
			},
		}}, nil
	})
	if err != nil {
		return nil, e.wrapStoreErr(err, "escalate")
	}

	e.logger.Info("conversation escalated",
		zap.String("conversation_id", updated.ID),
		zap.Int("level", nextLevel),
		zap.String("from_responder", prevResponder),
		zap.String("to_responder", next.MemberID),
		zap.String("reason", reason),
	)

	e.notify(ctx, updated, messaging.SendOptions{
		RecipientID: updated.AskerID,
		Type:        messaging.TypeEscalationNotice,
	}, templates.Data{
		ConversationID: updated.ID,
		FromResponder:  prevResponder,
		ToResponder:    next.MemberID,
		Level:          nextLevel,
	})
	e.notify(ctx, updated, messaging.SendOptions{
		RecipientID: next.MemberID,
		Type:        messaging.TypeRerouteNotice,
	}, templates.Data{
		ConversationID: updated.ID,
		Question:       updated.Question,
		FromResponder:  prevResponder,
		PriorContext:   reason,
	})

	return &Result{
		Outcome:        OutcomeEscalated,
		Conversation:   updated,
		NewResponderID: next.MemberID,
		Level:          nextLevel,
	}, nil
}

// HandleCantHelp processes a responder declaring they cannot answer. Only the
// currently assigned responder may do so. With a target role the question is
// handed laterally to an active member of that role in the same squad, keeping
// the escalation level; without one the normal escalation path runs. The
// cant_help declaration is always recorded, even when the requested hand-off
// target does not exist.
func (e *Engine) HandleCantHelp(ctx context.Context, conversationID, responderID, targetRole, reason string) (*Result, error) {
	conv, err := e.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, e.wrapStoreErr(err, "cant help")
	}
	if conv.Terminal() {
		return nil, types.Errorf(types.ErrInvalidState,
			"conversation %s is already %s", conv.ID, conv.State)
	}
	if conv.ResponderID != responderID {
		return nil, types.Errorf(types.ErrPermissionDenied,
			"%s is not the current responder for conversation %s", responderID, conv.ID)
	}

	if targetRole == "" {
		if err := e.recordCantHelp(ctx, conversationID, responderID, reason, ""); err != nil {
			return nil, err
		}
		return e.Escalate(ctx, conversationID, "cant_help")
	}

	target, err := e.store.FindActiveMember(ctx, conv.SquadID, targetRole)
	if errors.Is(err, persistence.ErrNotFound) {
		if err := e.recordCantHelp(ctx, conversationID, responderID, reason, targetRole); err != nil {
			return nil, err
		}
		e.logger.Warn("cant-help hand-off target not found",
			zap.String("conversation_id", conv.ID),
			zap.String("target_role", targetRole),
		)
		return &Result{
			Outcome:      OutcomeRerouteFailed,
			Conversation: conv,
			Level:        conv.EscalationLevel,
		}, nil
	}
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "hand-off target lookup failed").WithCause(err)
	}

	var prevResponder string
	updated, err := e.store.Mutate(ctx, conversationID, func(c *persistence.Conversation) ([]*persistence.ConversationEvent, error) {
		if c.Terminal() {
			return nil, types.Errorf(types.ErrInvalidState,
				"conversation %s is already %s", c.ID, c.State)
		}
		if c.ResponderID != responderID {
			return nil, types.Errorf(types.ErrPermissionDenied,
				"%s is not the current responder for conversation %s", responderID, c.ID)
		}
		now := time.Now().UTC()
		deadline := now.Add(e.cfg.ResponseTimeout)
		prevResponder = c.ResponderID
		c.ResponderID = target.ID
		c.DeadlineAt = &deadline

		// Lateral hand-off keeps the state and level; the audit trail carries
		// both the declaration and the routing decision.
		return []*persistence.ConversationEvent{
			{
				Type:      types.EventCantHelp,
				FromState: c.State,
				ToState:   c.State,
				ActorID:   &responderID,
				Data: map[string]any{
					"reason":      reason,
					"target_role": targetRole,
				},
			},
			{
				Type:      types.EventRouted,
				FromState: c.State,
				ToState:   c.State,
				Data: map[string]any{
					"from_responder": prevResponder,
					"to_responder":   target.ID,
					"target_role":    targetRole,
				},
			},
		}, nil
	})
	if err != nil {
		return nil, e.wrapStoreErr(err, "cant help")
	}

	e.logger.Info("conversation rerouted",
		zap.String("conversation_id", updated.ID),
		zap.String("from_responder", prevResponder),
		zap.String("to_responder", target.ID),
		zap.String("target_role", targetRole),
	)

	e.notify(ctx, updated, messaging.SendOptions{
		SenderID:    prevResponder,
		RecipientID: target.ID,
		Type:        messaging.TypeRerouteNotice,
	}, templates.Data{
		ConversationID: updated.ID,
		Question:       updated.Question,
		FromResponder:  prevResponder,
		PriorContext:   reason,
	})

	return &Result{
		Outcome:        OutcomeRerouted,
		Conversation:   updated,
		NewResponderID: target.ID,
		Level:          updated.EscalationLevel,
	}, nil
}

// markUnresolvable terminates a conversation whose escalation chain ran out.
func (e *Engine) markUnresolvable(ctx context.Context, conversationID, reason string, exhaustedLevel int) (*Result, error) {
	updated, err := e.store.Mutate(ctx, conversationID, func(c *persistence.Conversation) ([]*persistence.ConversationEvent, error) {
		if c.Terminal() {
			return nil, types.Errorf(types.ErrInvalidState,
				"conversation %s is already %s", c.ID, c.State)
		}
		now := time.Now().UTC()
		from := c.State
		c.State = types.StateUnresolvable
		c.ResolvedAt = &now
		c.DeadlineAt = nil

		return []*persistence.ConversationEvent{{
			Type:      types.EventUnresolvable,
			FromState: from,
			ToState:   c.State,
			Data: map[string]any{
				"reason":          reason,
				"exhausted_level": exhaustedLevel,
			},
		}}, nil
	})
	if err != nil {
		return nil, e.wrapStoreErr(err, "mark unresolvable")
	}

	e.logger.Warn("conversation unresolvable",
		zap.String("conversation_id", updated.ID),
		zap.Int("exhausted_level", exhaustedLevel),
		zap.String("reason", reason),
	)

	e.notify(ctx, updated, messaging.SendOptions{
		RecipientID: updated.AskerID,
		Type:        messaging.TypeUnresolvableNotice,
	}, templates.Data{
		ConversationID: updated.ID,
		Level:          exhaustedLevel,
		Reason:         reason,
	})

	return &Result{
		Outcome:      OutcomeUnresolvable,
		Conversation: updated,
		Level:        updated.EscalationLevel,
	}, nil
}

// recordCantHelp appends the cant_help audit entry on its own, used when the
// follow-up action (escalation or failed hand-off) does not share its
// transaction.
func (e *Engine) recordCantHelp(ctx context.Context, conversationID, responderID, reason, targetRole string) error {
	conv, err := e.store.GetConversation(ctx, conversationID)
	if err != nil {
		return e.wrapStoreErr(err, "cant help")
	}
	data := map[string]any{"reason": reason}
	if targetRole != "" {
		data["target_role"] = targetRole
	}
	err = e.store.AppendEvent(ctx, &persistence.ConversationEvent{
		ConversationID: conversationID,
		Type:           types.EventCantHelp,
		FromState:      conv.State,
		ToState:        conv.State,
		ActorID:        &responderID,
		Data:           data,
	})
	if err != nil {
		return types.NewError(types.ErrInternal, "failed to record cant_help").WithCause(err)
	}
	return nil
}

func (e *Engine) notify(ctx context.Context, conv *persistence.Conversation, opts messaging.SendOptions, data templates.Data) {
	content, err := templates.Render(opts.Type, data)
	if err != nil {
		e.logger.Error("failed to render notice",
			zap.String("conversation_id", conv.ID),
			zap.String("type", string(opts.Type)),
			zap.Error(err),
		)
		return
	}
	opts.Content = content
	if opts.ContextID == "" {
		opts.ContextID = conv.ID
	}
	if _, err := e.messenger.Send(ctx, opts); err != nil {
		e.logger.Warn("notice delivery failed",
			zap.String("conversation_id", conv.ID),
			zap.String("type", string(opts.Type)),
			zap.String("recipient_id", opts.RecipientID),
			zap.Error(err),
		)
	}
}

func (e *Engine) wrapStoreErr(err error, op string) error {
	var typed *types.Error
	if errors.As(err, &typed) {
		return err
	}
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return types.Errorf(types.ErrNotFound, "%s: conversation not found", op).WithCause(err)
	case errors.Is(err, persistence.ErrStaleState):
		return types.Errorf(types.ErrStaleState, "%s: lost write race, re-read and retry", op).
			WithCause(err).WithRetryable(true)
	default:
		return types.Errorf(types.ErrInternal, "%s failed", op).WithCause(err)
	}
}
