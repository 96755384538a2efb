package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatloom/chatloom/core"
	"github.com/chatloom/chatloom/internal/testutil"
	"github.com/chatloom/chatloom/store/memory"
)

func newGuardFixture(t *testing.T) (*Guard, *memory.Store, *testutil.TaskScheduler, *core.ChatState, core.Command) {
	t.Helper()
	store := memory.NewStore()
	scheduler := &testutil.TaskScheduler{}
	guard := NewGuard(store, scheduler)

	chatPath := core.ChatPath("c1")
	state := testutil.NewChatBuilder("u1").Dispatch("d1").Seed(t, store, chatPath)
	cmd := core.NewCommand(core.CommonData{OwnerID: "u1", ChatPath: chatPath, DispatchID: "d1"}, "run")
	return guard, store, scheduler, state, cmd
}

func readChat(t *testing.T, store *memory.Store, chatPath string) *core.ChatState {
	t.Helper()
	var state *core.ChatState
	require.NoError(t, store.RunTransaction(context.Background(), func(tx core.Tx) error {
		var err error
		state, err = core.GetChat(tx, chatPath)
		return err
	}))
	require.NotNil(t, state)
	return state
}

func readRun(t *testing.T, store *memory.Store, runPath string) *core.Run {
	t.Helper()
	var run *core.Run
	require.NoError(t, store.RunTransaction(context.Background(), func(tx core.Tx) error {
		var err error
		run, err = core.GetRun(tx, runPath)
		return err
	}))
	return run
}

func TestGuard_RunsWorkAndCompletesRun(t *testing.T) {
	guard, store, _, _, cmd := newGuardFixture(t)
	ctx := context.Background()

	invoked := 0
	err := guard.DispatchWithCheck(ctx, Delivery{Queue: "q", RunID: "r1"}, cmd, func(ctx context.Context, state *core.ChatState, cmd core.Command, updater SafeUpdater) error {
		invoked++
		assert.Equal(t, "d1", state.LatestDispatchID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, invoked)

	run := readRun(t, store, core.RunPath(cmd.ChatPath, "d1", "r1"))
	require.NotNil(t, run)
	assert.Equal(t, core.RunComplete, run.Status)
}

func TestGuard_DuplicateDeliveryNoOps(t *testing.T) {
	guard, _, _, _, cmd := newGuardFixture(t)
	ctx := context.Background()

	invoked := 0
	work := func(ctx context.Context, state *core.ChatState, cmd core.Command, updater SafeUpdater) error {
		invoked++
		return nil
	}
	require.NoError(t, guard.DispatchWithCheck(ctx, Delivery{Queue: "q", RunID: "r1"}, cmd, work))
	require.NoError(t, guard.DispatchWithCheck(ctx, Delivery{Queue: "q", RunID: "r1"}, cmd, work))
	assert.Equal(t, 1, invoked, "second delivery for the same run must not execute work")
}

func TestGuard_ParallelDeliveryObservesRunning(t *testing.T) {
	guard, _, _, _, cmd := newGuardFixture(t)
	ctx := context.Background()

	inner := 0
	outer := 0
	err := guard.DispatchWithCheck(ctx, Delivery{Queue: "q", RunID: "r1"}, cmd, func(ctx context.Context, state *core.ChatState, cmd core.Command, updater SafeUpdater) error {
		outer++
		// A parallel delivery of the same run arriving mid-work observes the
		// running status and drops.
		return guard.DispatchWithCheck(ctx, Delivery{Queue: "q", RunID: "r1"}, cmd, func(ctx context.Context, state *core.ChatState, cmd core.Command, updater SafeUpdater) error {
			inner++
			return nil
		})
	})
	require.NoError(t, err)
	assert.Equal(t, 1, outer)
	assert.Equal(t, 0, inner)
}

func TestGuard_StaleDispatchDropsSilently(t *testing.T) {
	guard, _, _, _, cmd := newGuardFixture(t)
	ctx := context.Background()

	stale := cmd
	stale.DispatchID = "d0"
	invoked := 0
	err := guard.DispatchWithCheck(ctx, Delivery{Queue: "q", RunID: "r1"}, stale, func(ctx context.Context, state *core.ChatState, cmd core.Command, updater SafeUpdater) error {
		invoked++
		return nil
	})
	require.NoError(t, err, "stale dispatch must be a silent no-op, not an error")
	assert.Equal(t, 0, invoked)
}

func TestGuard_MissingChatDropsSilently(t *testing.T) {
	guard, _, _, _, cmd := newGuardFixture(t)
	cmd.ChatPath = core.ChatPath("ghost")

	err := guard.DispatchWithCheck(context.Background(), Delivery{Queue: "q", RunID: "r1"}, cmd, func(ctx context.Context, state *core.ChatState, cmd core.Command, updater SafeUpdater) error {
		t.Fatal("work must not run for a missing chat")
		return nil
	})
	require.NoError(t, err)
}

func TestGuard_SafeUpdateDiscardsAfterSupersede(t *testing.T) {
	guard, store, _, _, cmd := newGuardFixture(t)
	ctx := context.Background()

	err := guard.DispatchWithCheck(ctx, Delivery{Queue: "q", RunID: "r1"}, cmd, func(ctx context.Context, state *core.ChatState, cmd core.Command, updater SafeUpdater) error {
		// A newer dispatch supersedes this one mid-flight.
		require.NoError(t, store.RunTransaction(ctx, func(tx core.Tx) error {
			chat, err := core.GetChat(tx, cmd.ChatPath)
			require.NoError(t, err)
			chat.LatestDispatchID = "d2"
			return core.SaveChat(tx, cmd.ChatPath, chat)
		}))

		return updater.SafeUpdate(ctx, func(tx core.Tx, state *core.ChatState) error {
			state.Data = map[string]any{"stale": true}
			return nil
		})
	})
	require.NoError(t, err)

	chat := readChat(t, store, cmd.ChatPath)
	assert.Nil(t, chat.Data, "stale dispatch's update must not apply")
	assert.Equal(t, "d2", chat.LatestDispatchID)
}

func TestGuard_PermanentErrorFailsChatAndSwallows(t *testing.T) {
	guard, store, _, _, cmd := newGuardFixture(t)
	ctx := context.Background()

	err := guard.DispatchWithCheck(ctx, Delivery{Queue: "q", RunID: "r1"}, cmd, func(ctx context.Context, state *core.ChatState, cmd core.Command, updater SafeUpdater) error {
		return core.NewError(core.CodeUnimplemented, "tool dispatcher missing")
	})
	require.NoError(t, err, "permanent failure is terminal, must not propagate to the transport")

	chat := readChat(t, store, cmd.ChatPath)
	assert.Equal(t, core.StatusFailed, chat.Status)
	assert.Equal(t, "tool dispatcher missing", chat.LastError)

	run := readRun(t, store, core.RunPath(cmd.ChatPath, "d1", "r1"))
	assert.Equal(t, core.RunComplete, run.Status)
}

func TestGuard_RetryBoundary(t *testing.T) {
	const maxRetries = 3
	transient := errors.New("transient failure")

	for attempt := 0; attempt < maxRetries; attempt++ {
		store := memory.NewStore()
		scheduler := &testutil.TaskScheduler{Retries: map[string]int{"q": maxRetries}}
		guard := NewGuard(store, scheduler)
		chatPath := core.ChatPath("c1")
		testutil.NewChatBuilder("u1").Dispatch("d1").Seed(t, store, chatPath)
		cmd := core.NewCommand(core.CommonData{OwnerID: "u1", ChatPath: chatPath, DispatchID: "d1"}, "run")

		err := guard.DispatchWithCheck(context.Background(), Delivery{Queue: "q", RunID: "r1", Attempt: attempt}, cmd, func(ctx context.Context, state *core.ChatState, cmd core.Command, updater SafeUpdater) error {
			return transient
		})

		chat := readChat(t, store, chatPath)
		run := readRun(t, store, core.RunPath(chatPath, "d1", "r1"))
		if attempt+1 == maxRetries {
			assert.NoError(t, err, "attempt %d: ceiling reached, must swallow", attempt)
			assert.Equal(t, core.StatusFailed, chat.Status)
			assert.Equal(t, core.RunComplete, run.Status)
		} else {
			assert.ErrorIs(t, err, transient, "attempt %d: must re-throw for transport retry", attempt)
			assert.NotEqual(t, core.StatusFailed, chat.Status)
			assert.Equal(t, core.RunWaitingForRetry, run.Status)
		}
	}
}

func TestGuard_RetryAfterWaitingForRetryProceeds(t *testing.T) {
	guard, store, scheduler, _, cmd := newGuardFixture(t)
	scheduler.Retries = map[string]int{"q": 5}
	ctx := context.Background()

	transient := errors.New("flaky")
	err := guard.DispatchWithCheck(ctx, Delivery{Queue: "q", RunID: "r1", Attempt: 0}, cmd, func(ctx context.Context, state *core.ChatState, cmd core.Command, updater SafeUpdater) error {
		return transient
	})
	require.ErrorIs(t, err, transient)

	// Redelivery of the same run id succeeds this time.
	invoked := 0
	err = guard.DispatchWithCheck(ctx, Delivery{Queue: "q", RunID: "r1", Attempt: 1}, cmd, func(ctx context.Context, state *core.ChatState, cmd core.Command, updater SafeUpdater) error {
		invoked++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, invoked)

	run := readRun(t, store, core.RunPath(cmd.ChatPath, "d1", "r1"))
	assert.Equal(t, core.RunComplete, run.Status)
	assert.Equal(t, 1, run.Attempt)
}

func TestGuard_FailureRunsCleanup(t *testing.T) {
	store := memory.NewStore()
	scheduler := &testutil.TaskScheduler{}
	cleaned := []string{}
	guard := NewGuard(store, scheduler, func(o *GuardOptions) {
		o.Cleaner = cleanerFunc(func(ctx context.Context, chatPath string) error {
			cleaned = append(cleaned, chatPath)
			return nil
		})
	})
	chatPath := core.ChatPath("c1")
	testutil.NewChatBuilder("u1").Dispatch("d1").Seed(t, store, chatPath)
	cmd := core.NewCommand(core.CommonData{OwnerID: "u1", ChatPath: chatPath, DispatchID: "d1"}, "run")

	err := guard.DispatchWithCheck(context.Background(), Delivery{Queue: "q", RunID: "r1"}, cmd, func(ctx context.Context, state *core.ChatState, cmd core.Command, updater SafeUpdater) error {
		return core.Permanentf(core.CodeInternal, "broken")
	})
	require.NoError(t, err)
	assert.Equal(t, []string{chatPath}, cleaned)
}

// cleanerFunc adapts a function to core.Cleaner for tests.
type cleanerFunc func(ctx context.Context, chatPath string) error

func (f cleanerFunc) Register(tx core.Tx, chatPath string, command core.Command) error { return nil }
func (f cleanerFunc) Cleanup(ctx context.Context, chatPath string) error {
	return f(ctx, chatPath)
}
