// Package dispatch implements the single-writer lock and command chaining
// that make chat processing safe on an at-least-once task queue.
//
// The Guard verifies, in one transaction, that a delivered command still
// belongs to the chat's latest dispatch and that no other delivery is already
// running it, before any work happens. Work runs outside the lock and applies
// state through SafeUpdate, which re-checks the dispatch id in a fresh
// transaction so a superseding dispatch silently wins.
//
// The Runner executes one action of a command's ordered action list per
// delivery, chaining the rest through a re-enqueue, and decides between
// retrying (re-throwing to the transport) and failing the chat permanently
// based on the error's permanence tag and the queue's retry ceiling.
package dispatch
