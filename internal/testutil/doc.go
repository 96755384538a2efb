// Package testutil provides builders and collaborator fakes shared by engine
// tests: a fluent chat state builder, a recording task scheduler and a
// recording command scheduler.
package testutil
