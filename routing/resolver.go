package routing

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/BaSui01/squadflow/persistence"
)

// DefaultCategory is the wildcard question category a lookup retries with
// when the specific category has no rule at the requested level.
const DefaultCategory = "default"

// Responder is a concrete resolution result.
type Responder struct {
	MemberID string `json:"member_id"`
	Role     string `json:"role"`
	// RuleID is the rule that produced this responder.
	RuleID string `json:"rule_id"`
	// Direct is true when the rule named a specific responder, bypassing
	// role-based member lookup.
	Direct bool `json:"direct"`
	// Level echoes the escalation level the lookup ran at.
	Level int `json:"level"`
}

// Resolver resolves responders from routing rules. It is purely read-only.
type Resolver struct {
	store  *persistence.Store
	logger *zap.Logger
}

// NewResolver creates a resolver over the store.
func NewResolver(store *persistence.Store, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		store:  store,
		logger: logger.With(zap.String("component", "resolver")),
	}
}

// Resolve picks the responder for (scope, askerRole, category, level).
// It returns (nil, nil) when no rule matches or no active member holds the
// matched role: a dead end is a routing outcome, not an error. Callers decide
// whether a dead end is fatal (level 0) or terminal (escalation exhausted).
func (r *Resolver) Resolve(ctx context.Context, scope persistence.Scope, askerRole, category string, level int) (*Responder, error) {
	if category == "" {
		category = DefaultCategory
	}

	rule, err := r.store.FindRule(ctx, scope, askerRole, category, level)
	if errors.Is(err, persistence.ErrNotFound) && category != DefaultCategory {
		// One retry with the wildcard category at the same level.
		rule, err = r.store.FindRule(ctx, scope, askerRole, DefaultCategory, level)
	}
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	// A specific responder on the rule overrides role lookup, provided the
	// member is still active.
	if rule.ResponderID != nil {
		m, err := r.store.GetMember(ctx, *rule.ResponderID)
		if errors.Is(err, persistence.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if !m.Active {
			return nil, nil
		}
		return &Responder{
			MemberID: m.ID,
			Role:     m.Role,
			RuleID:   rule.ID,
			Direct:   true,
			Level:    level,
		}, nil
	}

	m, err := r.store.FindActiveMember(ctx, scope.SquadID, rule.ResponderRole)
	if errors.Is(err, persistence.ErrNotFound) {
		r.logger.Debug("no active member for responder role",
			zap.String("role", rule.ResponderRole),
			zap.String("squad_id", scope.SquadID),
			zap.Int("level", level),
		)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &Responder{
		MemberID: m.ID,
		Role:     m.Role,
		RuleID:   rule.ID,
		Level:    level,
	}, nil
}

// ChainStep is one resolved level of an escalation chain.
type ChainStep struct {
	Level     int        `json:"level"`
	Responder *Responder `json:"responder"`
}

// EscalationChain walks Resolve from level 0 upward until a level returns a
// dead end or maxLevels is reached. Read-only; used by inspection and
// validation tooling.
func (r *Resolver) EscalationChain(ctx context.Context, scope persistence.Scope, askerRole, category string, maxLevels int) ([]ChainStep, error) {
	var chain []ChainStep
	for level := 0; level < maxLevels; level++ {
		resp, err := r.Resolve(ctx, scope, askerRole, category, level)
		if err != nil {
			return nil, err
		}
		if resp == nil {
			break
		}
		chain = append(chain, ChainStep{Level: level, Responder: resp})
	}
	return chain, nil
}
