package sweeper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/squadflow/conversation"
	"github.com/BaSui01/squadflow/escalation"
	"github.com/BaSui01/squadflow/internal/metrics"
	"github.com/BaSui01/squadflow/persistence"
	"github.com/BaSui01/squadflow/types"
)

// Config controls a single sweep.
type Config struct {
	// MaxRetries is how many timeout events a conversation absorbs before
	// the sweeper escalates instead of sending another reminder.
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
	// Concurrency bounds how many overdue conversations are handled at once.
	Concurrency int `json:"concurrency" yaml:"concurrency"`
	// BatchLimit caps conversations considered per sweep; 0 means no cap.
	BatchLimit int `json:"batch_limit" yaml:"batch_limit"`
}

// DefaultConfig returns the default sweep configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries:  1,
		Concurrency: 8,
		BatchLimit:  500,
	}
}

// SweepError records one conversation the sweep could not advance.
type SweepError struct {
	ConversationID string
	Err            error
}

func (e SweepError) Error() string {
	return fmt.Sprintf("sweep %s: %v", e.ConversationID, e.Err)
}

// Stats summarizes one sweep run.
type Stats struct {
	Scanned      int
	FollowUps    int
	Escalations  int
	Unresolvable int
	Errors       []SweepError
}

// Sweeper advances overdue conversations.
type Sweeper struct {
	store        *persistence.Store
	conversation *conversation.Engine
	escalation   *escalation.Engine
	cfg          Config
	collector    *metrics.Collector
	tracer       trace.Tracer
	logger       *zap.Logger
}

// New creates a sweeper. collector may be nil when metrics are disabled.
func New(store *persistence.Store, conv *conversation.Engine, esc *escalation.Engine, cfg Config, collector *metrics.Collector, logger *zap.Logger) *Sweeper {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		store:        store,
		conversation: conv,
		escalation:   esc,
		cfg:          cfg,
		collector:    collector,
		tracer:       otel.Tracer("squadflow/sweeper"),
		logger:       logger.With(zap.String("component", "sweeper")),
	}
}

// Sweep runs one pass over all overdue conversations. Per-conversation
// failures are collected into Stats.Errors; Sweep itself only errors when the
// due-conversation query fails.
func (s *Sweeper) Sweep(ctx context.Context) (*Stats, error) {
	ctx, span := s.tracer.Start(ctx, "sweeper.sweep")
	defer span.End()
	start := time.Now()

	due, err := s.store.ListDue(ctx, time.Now().UTC(), s.cfg.BatchLimit)
	if err != nil {
		if s.collector != nil {
			s.collector.RecordSweep("error", time.Since(start), 0, 0)
		}
		return nil, fmt.Errorf("failed to list due conversations: %w", err)
	}

	stats := &Stats{Scanned: len(due)}
	if len(due) == 0 {
		if s.collector != nil {
			s.collector.RecordSweep("ok", time.Since(start), 0, 0)
		}
		return stats, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for _, c := range due {
		conv := c
		g.Go(func() error {
			outcome, err := s.handle(gctx, &conv)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// A lost race means another actor advanced the conversation
				// first; that is the system working, not a sweep failure.
				if types.IsCode(err, types.ErrStaleState) || types.IsCode(err, types.ErrInvalidState) {
					s.logger.Debug("conversation advanced concurrently",
						zap.String("conversation_id", conv.ID), zap.Error(err))
					return nil
				}
				stats.Errors = append(stats.Errors, SweepError{ConversationID: conv.ID, Err: err})
				return nil
			}
			switch outcome {
			case outcomeFollowUp:
				stats.FollowUps++
			case outcomeEscalated:
				stats.Escalations++
			case outcomeUnresolvable:
				stats.Unresolvable++
			}
			return nil
		})
	}
	// Workers never return errors; they record them in stats.
	_ = g.Wait()

	span.SetAttributes(
		attribute.Int("sweep.scanned", stats.Scanned),
		attribute.Int("sweep.follow_ups", stats.FollowUps),
		attribute.Int("sweep.escalations", stats.Escalations),
		attribute.Int("sweep.unresolvable", stats.Unresolvable),
		attribute.Int("sweep.errors", len(stats.Errors)),
	)
	if s.collector != nil {
		s.collector.RecordSweep("ok", time.Since(start), stats.Scanned, len(stats.Errors))
	}
	s.logger.Info("sweep complete",
		zap.Int("scanned", stats.Scanned),
		zap.Int("follow_ups", stats.FollowUps),
		zap.Int("escalations", stats.Escalations),
		zap.Int("unresolvable", stats.Unresolvable),
		zap.Int("errors", len(stats.Errors)),
		zap.Duration("duration", time.Since(start)),
	)
	return stats, nil
}

type outcome int

const (
	outcomeFollowUp outcome = iota
	outcomeEscalated
	outcomeUnresolvable
)

// handle advances one overdue conversation: a reminder while retries remain,
// escalation once they are spent.
func (s *Sweeper) handle(ctx context.Context, conv *persistence.Conversation) (outcome, error) {
	timeouts, err := s.store.CountEvents(ctx, conv.ID, types.EventTimeout)
	if err != nil {
		return 0, fmt.Errorf("failed to count timeouts: %w", err)
	}

	if int(timeouts) < s.cfg.MaxRetries {
		if _, err := s.conversation.FollowUp(ctx, conv.ID); err != nil {
			return 0, err
		}
		if s.collector != nil {
			s.collector.RecordFollowUp()
		}
		return outcomeFollowUp, nil
	}

	res, err := s.escalation.Escalate(ctx, conv.ID, "timeout")
	if err != nil {
		return 0, err
	}
	if s.collector != nil {
		s.collector.RecordEscalation("timeout")
	}
	if res.Outcome == escalation.OutcomeUnresolvable {
		return outcomeUnresolvable, nil
	}
	return outcomeEscalated, nil
}
