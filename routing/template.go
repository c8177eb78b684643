package routing

import (
	"context"
	"fmt"

	"github.com/BaSui01/squadflow/persistence"
)

// TemplateRule is one rule inside a routing template, scope-free until the
// template is applied.
type TemplateRule struct {
	AskerRole        string `json:"asker_role" yaml:"asker_role"`
	QuestionCategory string `json:"question_category" yaml:"question_category"`
	EscalationLevel  int    `json:"escalation_level" yaml:"escalation_level"`
	ResponderRole    string `json:"responder_role" yaml:"responder_role"`
	Priority         int    `json:"priority" yaml:"priority"`
}

// Template is a named, reusable routing configuration.
type Template struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	Rules       []TemplateRule `json:"rules" yaml:"rules"`
}

// BuiltinTemplates are the rule sets shipped with the engine. Keys are
// template names as accepted by ApplyTemplate.
var BuiltinTemplates = map[string]Template{
	"engineering-tiered": {
		Name:        "engineering-tiered",
		Description: "Developers escalate to lead, then architect, then engineering manager.",
		Rules: []TemplateRule{
			{AskerRole: "developer", QuestionCategory: DefaultCategory, EscalationLevel: 0, ResponderRole: "lead", Priority: 10},
			{AskerRole: "developer", QuestionCategory: DefaultCategory, EscalationLevel: 1, ResponderRole: "architect", Priority: 10},
			{AskerRole: "developer", QuestionCategory: DefaultCategory, EscalationLevel: 2, ResponderRole: "engineering_manager", Priority: 10},
			{AskerRole: "developer", QuestionCategory: "implementation", EscalationLevel: 0, ResponderRole: "lead", Priority: 20},
			{AskerRole: "developer", QuestionCategory: "implementation", EscalationLevel: 1, ResponderRole: "architect", Priority: 20},
			{AskerRole: "developer", QuestionCategory: "design", EscalationLevel: 0, ResponderRole: "architect", Priority: 20},
			{AskerRole: "developer", QuestionCategory: "design", EscalationLevel: 1, ResponderRole: "engineering_manager", Priority: 20},
		},
	},
	"flat-team": {
		Name:        "flat-team",
		Description: "Everyone asks the coordinator; the coordinator asks the owner.",
		Rules: []TemplateRule{
			{AskerRole: "member", QuestionCategory: DefaultCategory, EscalationLevel: 0, ResponderRole: "coordinator", Priority: 10},
			{AskerRole: "member", QuestionCategory: DefaultCategory, EscalationLevel: 1, ResponderRole: "owner", Priority: 10},
			{AskerRole: "coordinator", QuestionCategory: DefaultCategory, EscalationLevel: 0, ResponderRole: "owner", Priority: 10},
		},
	},
	"support-tiered": {
		Name:        "support-tiered",
		Description: "Support agents escalate tier 1 through tier 3.",
		Rules: []TemplateRule{
			{AskerRole: "support_agent", QuestionCategory: DefaultCategory, EscalationLevel: 0, ResponderRole: "tier2", Priority: 10},
			{AskerRole: "support_agent", QuestionCategory: DefaultCategory, EscalationLevel: 1, ResponderRole: "tier3", Priority: 10},
			{AskerRole: "support_agent", QuestionCategory: "billing", EscalationLevel: 0, ResponderRole: "billing_specialist", Priority: 20},
			{AskerRole: "support_agent", QuestionCategory: "billing", EscalationLevel: 1, ResponderRole: "tier3", Priority: 20},
		},
	},
}

// ApplyTemplate creates the named template's rules in a scope. Exactly one of
// scope.SquadID / scope.OrgID is used, squad taking precedence. Returns the
// created rules.
func ApplyTemplate(ctx context.Context, store *persistence.Store, scope persistence.Scope, name string) ([]persistence.RoutingRule, error) {
	tpl, ok := BuiltinTemplates[name]
	if !ok {
		return nil, fmt.Errorf("unknown routing template: %s", name)
	}

	var squadID, orgID *string
	if scope.SquadID != "" {
		squadID = &scope.SquadID
	} else if scope.OrgID != "" {
		orgID = &scope.OrgID
	} else {
		return nil, persistence.ErrBadScope
	}

	created := make([]persistence.RoutingRule, 0, len(tpl.Rules))
	for _, tr := range tpl.Rules {
		rule := persistence.RoutingRule{
			SquadID:          squadID,
			OrgID:            orgID,
			AskerRole:        tr.AskerRole,
			QuestionCategory: tr.QuestionCategory,
			EscalationLevel:  tr.EscalationLevel,
			ResponderRole:    tr.ResponderRole,
			Priority:         tr.Priority,
			Active:           true,
			Metadata:         map[string]any{"template": tpl.Name},
		}
		if err := store.CreateRule(ctx, &rule); err != nil {
			return nil, fmt.Errorf("failed to apply template rule: %w", err)
		}
		created = append(created, rule)
	}
	return created, nil
}
