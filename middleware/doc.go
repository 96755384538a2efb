// Package middleware runs assistant output through a pluggable processing
// chain before it reaches the chat transcript. Stages compose right to left,
// each receiving a Next continuation, with a terminal stage that persists the
// messages through the dispatch control. Hand-over between assistants is one
// such stage, not a special case of the dispatch core.
package middleware
