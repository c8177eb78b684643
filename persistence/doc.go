// Package persistence owns the SquadFlow data model and the transactional
// store the engines mutate it through.
//
// Two rules every caller follows:
//
//  1. Conversation mutations go through Store.Mutate: one row-locked
//     read-modify-write transaction per conversation, with every resulting
//     audit event appended in the same transaction. The loser of a
//     concurrent race observes ErrStaleState and fails cleanly.
//  2. No component keeps a long-lived in-memory Conversation; state is
//     always the latest persisted row.
package persistence
