// Package routing answers "who should handle this question?".
//
// The Resolver picks a concrete responder for (scope, asker role, question
// category, escalation level) from the routing rules, falling back to the
// "default" category when the specific one has no rule. EscalationChain walks
// the same lookup level by level for inspection tooling, Validate surfaces
// configuration warnings without enforcing them, and templates seed common
// rule sets.
package routing
