// Package messaging defines the outbound message collaborator used by the
// conversation engine, the escalation engine, and the sweeper.
//
// The engine only depends on the Messenger interface. Two implementations are
// provided:
//
//   - MemoryMessenger: in-process delivery with an observable channel,
//     intended for tests and single-node development.
//   - RedisMessenger: appends messages to per-recipient redis streams with
//     outbound rate limiting, intended for distributed deployments.
//
// Delivery is at-least-once and not transactionally coupled to the database;
// callers generate a fresh message ID per send and never rely on dedup here.
package messaging
