// Package mongo backs the record store with MongoDB. Every document lives in
// one collection keyed by its full slash-separated path, with a parent field
// holding the path of its sub-collection so ordered collection scans stay a
// single indexed query. Transactions map onto MongoDB sessions, so the server
// must run as a replica set.
package mongo
