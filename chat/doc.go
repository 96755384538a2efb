// Package chat is the front-facing API over the orchestration engine. Every
// operation validates the chat inside one record-store transaction, allocates
// a fresh dispatch that supersedes all in-flight work, and only after the
// transaction commits inserts messages and talks to the command scheduler.
package chat
