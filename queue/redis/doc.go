// Package redis implements the task-queue transport on Redis. Each queue is a
// list of JSON command envelopes, with a companion sorted set holding delayed
// and retrying deliveries scored by their due time. An envelope keeps a
// stable delivery id across redeliveries while its attempt counter grows, so
// the dispatch guard can tell a retry of the same run from a new run.
package redis
