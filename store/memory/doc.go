// Package memory provides a volatile core.RecordStore implementation storing
// documents in a process local map. Transactions are serialized under one
// lock, which trivially satisfies the read-then-conditional-write contract.
// It is best suited for tests and ephemeral demo setups.
package memory
