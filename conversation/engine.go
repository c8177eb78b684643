package conversation

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

// Config controls conversation deadlines.
type Config struct {
	// InitialTimeout is how long a responder has before the sweeper acts,
	// counted from initiation and again from acknowledgment.
	InitialTimeout time.Duration `json:"initial_timeout" yaml:"initial_timeout"`
	// FollowUpTimeout is the shorter deadline granted after a reminder.
	FollowUpTimeout time.Duration `json:"follow_up_timeout" yaml:"follow_up_timeout"`
}

// DefaultConfig returns the default deadline configuration.
func DefaultConfig() Config {
	return Config{
		InitialTimeout:  30 * time.Minute,
		FollowUpTimeout: 10 * time.Minute,
	}
}

// Engine owns the conversation lifecycle. All collaborators are injected;
// Engine holds no global state and multiple instances can share one store.
type Engine struct {
	store     *persistence.Store
	resolver  *routing.Resolver
	messenger messaging.Messenger
	cfg       Config
	logger    *zap.Logger
}

// NewEngine creates a conversation engine.
func NewEngine(store *persistence.Store, resolver *routing.Resolver, messenger messaging.Messenger, cfg Config, logger *zap.Logger) *Engine {
	if cfg.InitialTimeout <= 0 {
		cfg.InitialTimeout = DefaultConfig().InitialTimeout
	}
	if cfg.FollowUpTimeout <= 0 {
		cfg.FollowUpTimeout = DefaultConfig().FollowUpTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:     store,
		resolver:  resolver,
		messenger: messenger,
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "conversation")),
	}
}

// InitiateOptions are the inputs to Initiate.
type InitiateOptions struct {
	AskerID          string
	AskerRole        string
	Scope            persistence.Scope
	QuestionCategory string
	Question         string
	TaskContextID    *string
	Metadata         map[string]any
}

// Initiate resolves the level-0 responder, delivers the question, and creates
// the conversation with its initiating event. The question is sent before the
// row is written: if delivery fails no conversation exists, and if the write
// fails the responder received a question the engine will not track, which the
// caller sees as an error and may retry.
func (e *Engine) Initiate(ctx context.Context, opts InitiateOptions) (*persistence.Conversation, error) {
	responder, err := e.resolver.Resolve(ctx, opts.Scope, opts.AskerRole, opts.QuestionCategory, 0)
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "responder resolution failed").WithCause(err)
	}
	if responder == nil {
		return nil, types.Errorf(types.ErrNoResponder,
			"no responder configured for asker role %q category %q", opts.AskerRole, opts.QuestionCategory)
	}

	content, err := templates.Render(messaging.TypeQuestion, templates.Data{Question: opts.Question})
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "failed to render question").WithCause(err)
	}

	category := opts.QuestionCategory
	if category == "" {
		category = routing.DefaultCategory
	}

	conv := &persistence.Conversation{
		State:            types.StateInitiated,
		AskerID:          opts.AskerID,
		AskerRole:        opts.AskerRole,
		SquadID:          opts.Scope.SquadID,
		OrgID:            opts.Scope.OrgID,
		ResponderID:      responder.MemberID,
		EscalationLevel:  0,
		QuestionCategory: category,
		Question:         opts.Question,
		TaskContextID:    opts.TaskContextID,
		Metadata:         opts.Metadata,
	}

	contextID := ""
	if opts.TaskContextID != nil {
		contextID = *opts.TaskContextID
	}
	msgID, err := e.messenger.Send(ctx, messaging.SendOptions{
		SenderID:    opts.AskerID,
		RecipientID: responder.MemberID,
		Type:        messaging.TypeQuestion,
		Content:     content,
		ContextID:   contextID,
	})
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "failed to deliver question").WithCause(err)
	}

	now := time.Now().UTC()
	deadline := now.Add(e.cfg.InitialTimeout)
	conv.OriginMessageID = msgID
	conv.DeadlineAt = &deadline

	ev := &persistence.ConversationEvent{
		Type:      types.EventInitiated,
		FromState: types.StateInitiated,
		ToState:   types.StateInitiated,
		MessageID: &msgID,
		ActorID:   &opts.AskerID,
		Data: map[string]any{
			"responder_id": responder.MemberID,
			"rule_id":      responder.RuleID,
		},
	}
	if err := e.store.CreateConversation(ctx, conv, ev); err != nil {
		return nil, types.NewError(types.ErrInternal, "failed to persist conversation").WithCause(err)
	}

	e.logger.Info("conversation initiated",
		zap.String("conversation_id", conv.ID),
		zap.String("asker_id", opts.AskerID),
		zap.String("responder_id", responder.MemberID),
		zap.String("category", category),
	)
	return conv, nil
}

// Acknowledge moves an initiated conversation to waiting, resets the deadline,
// and notifies the asker. Only the initiated state accepts acknowledgment.
func (e *Engine) Acknowledge(ctx context.Context, conversationID, responderID, customMessage string) (*persistence.Conversation, error) {
	conv, err := e.store.Mutate(ctx, conversationID, func(c *persistence.Conversation) ([]*persistence.ConversationEvent, error) {
		if c.State != types.StateInitiated {
			return nil, types.Errorf(types.ErrInvalidState,
				"conversation %s cannot be acknowledged in state %s", c.ID, c.State)
		}
		now := time.Now().UTC()
		deadline := now.Add(e.cfg.InitialTimeout)
		from := c.State
		c.State = types.StateWaiting
		c.AcknowledgedAt = &now
		c.DeadlineAt = &deadline

		data := map[string]any{}
		if customMessage != "" {
			data["custom_message"] = customMessage
		}
		return []*persistence.ConversationEvent{{
			Type:      types.EventAcknowledged,
			FromState: from,
			ToState:   c.State,
			ActorID:   &responderID,
			Data:      data,
		}}, nil
	})
	if err != nil {
		return nil, e.wrapStoreErr(err, "acknowledge")
	}

	e.notify(ctx, conv, messaging.SendOptions{
		SenderID:    responderID,
		RecipientID: conv.AskerID,
		Type:        messaging.TypeAcknowledgment,
	}, templates.Data{
		ConversationID: conv.ID,
		CustomMessage:  customMessage,
	})
	return conv, nil
}

// Answer resolves a conversation from any non-terminal state. A late answer
// arriving after an escalation still closes the conversation; the currently
// assigned responder, if different from the one answering, gets a closed
// notice so they can drop the question.
func (e *Engine) Answer(ctx context.Context, conversationID, responderID, answer string) (*persistence.Conversation, error) {
	var supersededResponder string
	conv, err := e.store.Mutate(ctx, conversationID, func(c *persistence.Conversation) ([]*persistence.ConversationEvent, error) {
		if c.Terminal() {
			return nil, types.Errorf(types.ErrInvalidState,
				"conversation %s is already %s", c.ID, c.State)
		}
		supersededResponder = ""
		if c.ResponderID != responderID {
			supersededResponder = c.ResponderID
		}

		now := time.Now().UTC()
		from := c.State
		c.State = types.StateAnswered
		c.ResolvedAt = &now
		c.DeadlineAt = nil

		data := map[string]any{"answer": answer}
		if supersededResponder != "" {
			data["superseded_responder"] = supersededResponder
		}
		return []*persistence.ConversationEvent{{
			Type:      types.EventAnswered,
			FromState: from,
			ToState:   c.State,
			ActorID:   &responderID,
			Data:      data,
		}}, nil
	})
	if err != nil {
		return nil, e.wrapStoreErr(err, "answer")
	}

	e.notify(ctx, conv, messaging.SendOptions{
		SenderID:    responderID,
		RecipientID: conv.AskerID,
		Type:        messaging.TypeAnswer,
	}, templates.Data{
		ConversationID: conv.ID,
		Answer:         answer,
	})
	if supersededResponder != "" {
		e.notify(ctx, conv, messaging.SendOptions{
			RecipientID: supersededResponder,
			Type:        messaging.TypeClosedNotice,
		}, templates.Data{ConversationID: conv.ID})
	}
	return conv, nil
}

// Cancel closes a conversation from any non-terminal state without an answer.
func (e *Engine) Cancel(ctx context.Context, conversationID, cancelledBy, reason string) (*persistence.Conversation, error) {
	conv, err := e.store.Mutate(ctx, conversationID, func(c *persistence.Conversation) ([]*persistence.ConversationEvent, error) {
		if c.Terminal() {
			return nil, types.Errorf(types.ErrInvalidState,
				"conversation %s is already %s", c.ID, c.State)
		}
		now := time.Now().UTC()
		from := c.State
		c.State = types.StateCancelled
		c.ResolvedAt = &now
		c.DeadlineAt = nil

		data := map[string]any{}
		if reason != "" {
			data["reason"] = reason
		}
		var actor *string
		if cancelledBy != "" {
			actor = &cancelledBy
		}
		return []*persistence.ConversationEvent{{
			Type:      types.EventCancelled,
			FromState: from,
			ToState:   c.State,
			ActorID:   actor,
			Data:      data,
		}}, nil
	})
	if err != nil {
		return nil, e.wrapStoreErr(err, "cancel")
	}

	e.logger.Info("conversation cancelled",
		zap.String("conversation_id", conv.ID),
		zap.String("cancelled_by", cancelledBy),
	)
	return conv, nil
}

// FollowUp records an overdue deadline, moves the conversation to the
// follow-up state with a shorter deadline, and reminds the responder. The
// reminder delivery is logged as a separate follow_up_sent event referencing
// the sent message; a failed delivery leaves the transition intact and the
// next sweep retries.
func (e *Engine) FollowUp(ctx context.Context, conversationID string) (*persistence.Conversation, error) {
	conv, err := e.store.Mutate(ctx, conversationID, func(c *persistence.Conversation) ([]*persistence.ConversationEvent, error) {
		if !c.State.Sweepable() {
			return nil, types.Errorf(types.ErrInvalidState,
				"conversation %s cannot be followed up in state %s", c.ID, c.State)
		}
		now := time.Now().UTC()
		deadline := now.Add(e.cfg.FollowUpTimeout)
		from := c.State
		c.State = types.StateFollowUp
		c.DeadlineAt = &deadline

		return []*persistence.ConversationEvent{{
			Type:      types.EventTimeout,
			FromState: from,
			ToState:   c.State,
			Data:      map[string]any{"deadline_missed": true},
		}}, nil
	})
	if err != nil {
		return nil, e.wrapStoreErr(err, "follow up")
	}

	content, err := templates.Render(messaging.TypeFollowUp, templates.Data{
		ConversationID: conv.ID,
		Question:       conv.Question,
	})
	if err != nil {
		e.logger.Error("failed to render follow-up", zap.String("conversation_id", conv.ID), zap.Error(err))
		return conv, nil
	}
	msgID, err := e.messenger.Send(ctx, messaging.SendOptions{
		RecipientID: conv.ResponderID,
		Type:        messaging.TypeFollowUp,
		Content:     content,
		ContextID:   conv.ID,
	})
	if err != nil {
		e.logger.Warn("follow-up delivery failed",
			zap.String("conversation_id", conv.ID),
			zap.String("responder_id", conv.ResponderID),
			zap.Error(err),
		)
		return conv, nil
	}
	if err := e.store.AppendEvent(ctx, &persistence.ConversationEvent{
		ConversationID: conv.ID,
		Type:           types.EventFollowUpSent,
		FromState:      conv.State,
		ToState:        conv.State,
		MessageID:      &msgID,
	}); err != nil {
		e.logger.Warn("failed to record follow-up event",
			zap.String("conversation_id", conv.ID), zap.Error(err))
	}
	return conv, nil
}

// Get loads a conversation by ID.
func (e *Engine) Get(ctx context.Context, conversationID string) (*persistence.Conversation, error) {
	conv, err := e.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, e.wrapStoreErr(err, "get")
	}
	return conv, nil
}

// Timeline returns a conversation with its full event history.
func (e *Engine) Timeline(ctx context.Context, conversationID string) (*persistence.Timeline, error) {
	tl, err := e.store.Timeline(ctx, conversationID)
	if err != nil {
		return nil, e.wrapStoreErr(err, "timeline")
	}
	return tl, nil
}

// notify renders a template and sends it, logging but never surfacing
// delivery failures for already-committed transitions.
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
