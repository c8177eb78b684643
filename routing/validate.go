package routing

import (
	"context"
	"fmt"
	"sort"

	"github.com/BaSui01/squadflow/persistence"
)

// WarningKind classifies a routing configuration warning.
type WarningKind string

const (
	WarnMissingLevelZero WarningKind = "missing_level_zero"
	WarnLevelGap         WarningKind = "level_gap"
	WarnDuplicateRole    WarningKind = "duplicate_role"
	WarnInactiveOnly     WarningKind = "inactive_only"
)

// Warning is one non-fatal routing configuration finding. Gaps and duplicate
// roles are validated, never enforced: a scope with warnings still routes.
type Warning struct {
	Kind             WarningKind `json:"kind"`
	AskerRole        string      `json:"asker_role"`
	QuestionCategory string      `json:"question_category"`
	Level            int         `json:"level,omitempty"`
	Detail           string      `json:"detail"`
}

// Validate inspects all rules visible in a scope and reports configuration
// warnings: (asker role, category) groups with no level-0 rule, gaps in the
// level sequence, the same responder role appearing at multiple levels, and
// groups where every rule is inactive.
func Validate(ctx context.Context, store *persistence.Store, scope persistence.Scope) ([]Warning, error) {
	rules, err := store.ListRules(ctx, scope)
	if err != nil {
		return nil, err
	}

	type groupKey struct {
		askerRole string
		category  string
	}
	groups := make(map[groupKey][]persistence.RoutingRule)
	for _, r := range rules {
		k := groupKey{askerRole: r.AskerRole, category: r.QuestionCategory}
		groups[k] = append(groups[k], r)
	}

	keys := make([]groupKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].askerRole != keys[j].askerRole {
			return keys[i].askerRole < keys[j].askerRole
		}
		return keys[i].category < keys[j].category
	})

	var warnings []Warning
	for _, k := range keys {
		group := groups[k]

		active := group[:0:0]
		for _, r := range group {
			if r.Active {
				active = append(active, r)
			}
		}
		if len(active) == 0 {
			warnings = append(warnings, Warning{
				Kind:             WarnInactiveOnly,
				AskerRole:        k.askerRole,
				QuestionCategory: k.category,
				Detail:           "all rules for this group are inactive",
			})
			continue
		}

		levels := make(map[int]bool)
		roleLevels := make(map[string][]int)
		maxLevel := 0
		for _, r := range active {
			levels[r.EscalationLevel] = true
			roleLevels[r.ResponderRole] = append(roleLevels[r.ResponderRole], r.EscalationLevel)
			if r.EscalationLevel > maxLevel {
				maxLevel = r.EscalationLevel
			}
		}

		if !levels[0] {
			warnings = append(warnings, Warning{
				Kind:             WarnMissingLevelZero,
				AskerRole:        k.askerRole,
				QuestionCategory: k.category,
				Detail:           "no level-0 rule; initiation will fail with NO_RESPONDER",
			})
		}
		for level := 0; level <= maxLevel; level++ {
			if !levels[level] {
				warnings = append(warnings, Warning{
					Kind:             WarnLevelGap,
					AskerRole:        k.askerRole,
					QuestionCategory: k.category,
					Level:            level,
					Detail:           fmt.Sprintf("levels jump over %d; escalation dead-ends there", level),
				})
			}
		}
		for role, lvls := range roleLevels {
			if len(lvls) > 1 {
				sort.Ints(lvls)
				warnings = append(warnings, Warning{
					Kind:             WarnDuplicateRole,
					AskerRole:        k.askerRole,
					QuestionCategory: k.category,
					Detail:           fmt.Sprintf("responder role %q appears at levels %v", role, lvls),
				})
			}
		}
	}
	return warnings, nil
}
