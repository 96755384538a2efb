// Package core provides the foundational domain types and contracts used by
// chatloom. It defines the core abstractions for:
//
//   - Chats (durable conversation roots gated by a latest-dispatch id)
//   - Dispatches and Runs (units of work and their queue delivery attempts)
//   - Commands (queue payloads carrying an ordered action list)
//   - Continuations and ToolCalls (persisted suspension points for
//     asynchronous tool completion)
//   - The Durable Record Store contract (transactions, ordered sub-collection
//     queries, batched writes)
//   - External collaborator contracts (task scheduler, per-engine command
//     schedulers, chat cleaner)
//
// The package intentionally keeps implementation concerns (persistence
// engines, queue transports, vendor APIs) out of scope, exposing small
// interfaces to enable custom backends and extensions.
package core
