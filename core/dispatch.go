package core

import "time"

// Dispatch is one logical operation on a chat. Its id gates which in-flight
// work may mutate the chat: only the dispatch matching the chat's
// LatestDispatchID writes, everything older self-aborts.
type Dispatch struct {
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
}

// RunStatus is the lifecycle state of one queue delivery attempt.
type RunStatus string

const (
	// RunRunning marks the delivery currently advancing the dispatch.
	RunRunning RunStatus = "running"
	// RunComplete marks a delivery that finished, successfully or with a
	// permanent failure.
	RunComplete RunStatus = "complete"
	// RunWaitingForRetry marks a delivery that failed transiently and is
	// pending automatic re-delivery.
	RunWaitingForRetry RunStatus = "waitingForRetry"
)

// Run records one task-queue delivery attempt for a dispatch. At most one Run
// productively advances a dispatch at a time; a second delivery observing
// running or complete no-ops.
type Run struct {
	Status    RunStatus `json:"status" bson:"status"`
	Attempt   int       `json:"attempt" bson:"attempt"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
}
