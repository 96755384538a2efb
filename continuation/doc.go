// Package continuation implements suspension and resumption of multi-tool-call
// steps that may outlive a single worker invocation.
//
// The Engine folds an ordered list of tool calls through a registered tool
// dispatcher, threading the accumulated data payload from call to call. A
// dispatcher may resolve a call inline, fail it, or suspend it for
// asynchronous completion; suspension stops the pass and leaves the remaining
// calls pending.
//
// The Dispatcher persists suspended passes as a Continuation document with
// write-once ToolCall sub-documents, and resumes them when the re-enqueued
// command comes back. The Scheduler is the entry point for asynchronous tool
// completions: it writes the response transactionally and re-enqueues the
// original command so the outer dispatch picks up where it left off.
//
// Error policy: a pass is strict. Once one call resolves with an error, every
// later pending call in the same pass resolves to that same error without its
// dispatcher being invoked; the chain is presumed broken because calls feed on
// each other's data.
package continuation
