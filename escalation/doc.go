// Package escalation moves stuck conversations up the routing chain and
// handles responder hand-offs.
//
// Escalation is strictly monotonic: every committed escalation raises the
// level by exactly one, and a level with no resolvable responder ends the
// conversation as unresolvable instead of retrying or skipping ahead.
package escalation
