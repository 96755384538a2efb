package testutil

import (
	"context"
	"sync"

	"github.com/chatloom/chatloom/core"
)

// Scheduled records one TaskScheduler.Schedule call.
type Scheduled struct {
	Queue    string
	Commands []core.Command
	Opts     *core.DeliveryOptions
}

// TaskScheduler is a recording core.TaskScheduler fake. The zero value has an
// unlimited retry ceiling for every queue.
type TaskScheduler struct {
	mu sync.Mutex
	// Retries maps queue names to retry ceilings; missing queues get -1.
	Retries map[string]int
	// Err, when set, fails every Schedule call.
	Err       error
	scheduled []Scheduled
}

var _ core.TaskScheduler = (*TaskScheduler)(nil)

// Schedule records the call.
func (s *TaskScheduler) Schedule(ctx context.Context, queueName string, commands []core.Command, opts *core.DeliveryOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.scheduled = append(s.scheduled, Scheduled{Queue: queueName, Commands: commands, Opts: opts})
	return nil
}

// MaxRetries returns the configured ceiling, -1 when unset.
func (s *TaskScheduler) MaxRetries(queueName string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.Retries[queueName]; ok {
		return n
	}
	return -1
}

// All returns a copy of every recorded Schedule call.
func (s *TaskScheduler) All() []Scheduled {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Scheduled, len(s.scheduled))
	copy(out, s.scheduled)
	return out
}

// Last returns the most recent Schedule call, or nil.
func (s *TaskScheduler) Last() *Scheduled {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.scheduled) == 0 {
		return nil
	}
	last := s.scheduled[len(s.scheduled)-1]
	return &last
}

// CommandCall records one CommandScheduler invocation.
type CommandCall struct {
	Op       string
	Common   core.CommonData
	Messages []core.NewMessage
}

// CommandScheduler is a recording core.CommandScheduler fake supporting
// configs whose dispatcher id matches SupportsID.
type CommandScheduler struct {
	// SupportsID selects which assistant configs this scheduler accepts; ""
	// accepts everything.
	SupportsID string
	// Err, when set, fails every scheduling call.
	Err error

	mu    sync.Mutex
	calls []CommandCall
}

var _ core.CommandScheduler = (*CommandScheduler)(nil)

// IsSupported reports whether the config's dispatcher matches SupportsID.
func (s *CommandScheduler) IsSupported(config core.AssistantConfig) bool {
	return s.SupportsID == "" || config.DispatcherID == s.SupportsID
}

func (s *CommandScheduler) record(op string, common core.CommonData, messages []core.NewMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.calls = append(s.calls, CommandCall{Op: op, Common: common, Messages: messages})
	return nil
}

// Create records the call.
func (s *CommandScheduler) Create(ctx context.Context, common core.CommonData) error {
	return s.record("create", common, nil)
}

// CreateAndRun records the call.
func (s *CommandScheduler) CreateAndRun(ctx context.Context, common core.CommonData) error {
	return s.record("createAndRun", common, nil)
}

// SingleRun records the call.
func (s *CommandScheduler) SingleRun(ctx context.Context, common core.CommonData) error {
	return s.record("singleRun", common, nil)
}

// PostAndRun records the call.
func (s *CommandScheduler) PostAndRun(ctx context.Context, common core.CommonData) error {
	return s.record("postAndRun", common, nil)
}

// HandOver records the call.
func (s *CommandScheduler) HandOver(ctx context.Context, common core.CommonData, messages []core.NewMessage) error {
	return s.record("handOver", common, messages)
}

// HandBack records the call.
func (s *CommandScheduler) HandBack(ctx context.Context, common core.CommonData, messages []core.NewMessage) error {
	return s.record("handBack", common, messages)
}

// Close records the call.
func (s *CommandScheduler) Close(ctx context.Context, common core.CommonData) error {
	return s.record("close", common, nil)
}

// Calls returns a copy of every recorded invocation.
func (s *CommandScheduler) Calls() []CommandCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CommandCall, len(s.calls))
	copy(out, s.calls)
	return out
}

// LastCall returns the most recent invocation, or nil.
func (s *CommandScheduler) LastCall() *CommandCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) == 0 {
		return nil
	}
	last := s.calls[len(s.calls)-1]
	return &last
}
