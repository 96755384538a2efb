// Package cleaner persists teardown commands registered during a chat's life
// and replays them when the chat is failed or closed. Registration rides the
// caller's transaction so a cleanup obligation is never recorded for work
// that rolled back; replay happens outside transactions and is best effort
// per command.
package cleaner
