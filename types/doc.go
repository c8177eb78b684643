// Package types contains the shared domain vocabulary of SquadFlow:
// conversation states, event types, and the structured error taxonomy used
// across the routing, conversation, escalation, and sweeper packages.
//
// Everything here is dependency-free so that any package (including external
// consumers of the engine surface) can import it without pulling in storage
// or messaging code.
package types
