// Package conversation implements the state machine that owns one question's
// lifecycle from initiation to terminal resolution.
//
// Every mutating operation is a single atomic read-modify-write on the
// conversation row with its audit event appended in the same transaction.
// Outbound notifications are sent after the commit and are best-effort: a
// committed state transition is never rolled back because a notification
// failed.
package conversation
