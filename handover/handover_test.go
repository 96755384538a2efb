package handover

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatloom/chatloom/core"
	"github.com/chatloom/chatloom/internal/testutil"
	"github.com/chatloom/chatloom/store/memory"
)

const chatPath = "chats/c1"

type fixture struct {
	store      *memory.Store
	primary    *testutil.CommandScheduler
	specialist *testutil.CommandScheduler
	delegate   *Delegate
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:      memory.NewStore(),
		primary:    &testutil.CommandScheduler{SupportsID: "primary"},
		specialist: &testutil.CommandScheduler{SupportsID: "specialist"},
	}
	registry := core.NewSchedulerRegistry(f.primary, f.specialist)
	seq := 0
	f.delegate = New(f.store, registry, func(o *Options) {
		o.Clock = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
		o.NewSessionID = func() string {
			seq++
			return "session-" + []string{"a", "b", "c"}[seq-1]
		}
	})
	return f
}

func (f *fixture) inTx(t *testing.T, state *core.ChatState, fn func(tx core.Tx) error) {
	t.Helper()
	err := f.store.RunTransaction(context.Background(), func(tx core.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		return core.SaveChat(tx, chatPath, state)
	})
	require.NoError(t, err)
}

func TestHandOverInstallsTargetAndPushesStack(t *testing.T) {
	f := newFixture(t)
	state := testutil.NewChatBuilder("u1").
		Config(core.AssistantConfig{DispatcherID: "primary", Settings: map[string]any{"model": "fast"}}).
		Session("session-0").
		Meta(map[string]any{"ui": "dark"}).
		Seed(t, f.store, chatPath)

	target := core.AssistantConfig{DispatcherID: "specialist"}
	var former *Result
	f.inTx(t, state, func(tx core.Tx) error {
		var err error
		former, err = f.delegate.HandOver(context.Background(), tx, chatPath, state, Request{
			Config:   target,
			Messages: []core.NewMessage{core.UserMessage("take it from here")},
			ChatMeta: map[string]any{"ui": "light"},
		})
		return err
	})

	assert.Equal(t, "primary", former.FormerConfig.DispatcherID)
	assert.Equal(t, "session-0", former.FormerSessionID)
	assert.Equal(t, map[string]any{"ui": "dark"}, former.FormerMeta)

	assert.Equal(t, target, state.Config)
	assert.Equal(t, core.StatusProcessing, state.Status)
	assert.Equal(t, "session-a", state.SessionID)
	assert.Equal(t, map[string]any{"ui": "light"}, state.Meta)

	call := f.specialist.LastCall()
	require.NotNil(t, call)
	assert.Equal(t, "handOver", call.Op)
	assert.Equal(t, chatPath, call.Common.ChatPath)
	require.Len(t, call.Messages, 1)
	assert.Empty(t, f.primary.Calls())

	snaps, err := f.store.Documents(context.Background(), core.ContextStackPath(chatPath), core.Query{})
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	var entry core.ContextStackEntry
	require.NoError(t, snaps[0].Decode(&entry))
	assert.Equal(t, "primary", entry.Config.DispatcherID)
	assert.Equal(t, "session-0", entry.SessionID)
}

func TestHandBackRestoresFormerTenure(t *testing.T) {
	f := newFixture(t)
	state := testutil.NewChatBuilder("u1").
		Config(core.AssistantConfig{DispatcherID: "primary"}).
		Session("session-0").
		Meta(map[string]any{"ui": "dark"}).
		Seed(t, f.store, chatPath)

	f.inTx(t, state, func(tx core.Tx) error {
		_, err := f.delegate.HandOver(context.Background(), tx, chatPath, state, Request{
			Config: core.AssistantConfig{DispatcherID: "specialist"},
		})
		return err
	})

	var left *Result
	f.inTx(t, state, func(tx core.Tx) error {
		var err error
		left, err = f.delegate.HandBack(context.Background(), tx, chatPath, state, nil, nil)
		return err
	})

	assert.Equal(t, "specialist", left.FormerConfig.DispatcherID)
	assert.Equal(t, "session-a", left.FormerSessionID)

	assert.Equal(t, "primary", state.Config.DispatcherID)
	assert.Equal(t, "session-0", state.SessionID)
	assert.Equal(t, map[string]any{"ui": "dark"}, state.Meta)
	assert.Equal(t, core.StatusUserInput, state.Status)

	call := f.primary.LastCall()
	require.NotNil(t, call)
	assert.Equal(t, "handBack", call.Op)
	assert.Empty(t, call.Messages)

	snaps, err := f.store.Documents(context.Background(), core.ContextStackPath(chatPath), core.Query{})
	require.NoError(t, err)
	assert.Empty(t, snaps, "stack entry must be consumed")
}

func TestHandBackWithMessagesKeepsProcessing(t *testing.T) {
	f := newFixture(t)
	state := testutil.NewChatBuilder("u1").
		Config(core.AssistantConfig{DispatcherID: "primary"}).
		Seed(t, f.store, chatPath)

	f.inTx(t, state, func(tx core.Tx) error {
		_, err := f.delegate.HandOver(context.Background(), tx, chatPath, state, Request{
			Config: core.AssistantConfig{DispatcherID: "specialist"},
		})
		return err
	})

	f.inTx(t, state, func(tx core.Tx) error {
		_, err := f.delegate.HandBack(context.Background(), tx, chatPath, state,
			[]core.NewMessage{core.AIMessage("specialist summary")}, nil)
		return err
	})

	assert.Equal(t, core.StatusProcessing, state.Status)
	call := f.primary.LastCall()
	require.NotNil(t, call)
	require.Len(t, call.Messages, 1)
}

func TestHandBackPopsMostRecentEntry(t *testing.T) {
	f := newFixture(t)
	state := testutil.NewChatBuilder("u1").
		Config(core.AssistantConfig{DispatcherID: "primary"}).
		Session("session-0").
		Seed(t, f.store, chatPath)

	// Two nested hand-overs; stack entries get distinct timestamps.
	times := []time.Time{
		time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		time.Date(2025, 6, 1, 12, 1, 0, 0, time.UTC),
		time.Date(2025, 6, 1, 12, 2, 0, 0, time.UTC),
		time.Date(2025, 6, 1, 12, 3, 0, 0, time.UTC),
	}
	step := 0
	registry := core.NewSchedulerRegistry(f.primary, f.specialist)
	delegate := New(f.store, registry, func(o *Options) {
		o.Clock = func() time.Time { now := times[step]; step++; return now }
		o.NewSessionID = func() string { return "fresh" }
	})

	f.inTx(t, state, func(tx core.Tx) error {
		_, err := delegate.HandOver(context.Background(), tx, chatPath, state, Request{
			Config: core.AssistantConfig{DispatcherID: "specialist"},
		})
		return err
	})
	f.inTx(t, state, func(tx core.Tx) error {
		_, err := delegate.HandOver(context.Background(), tx, chatPath, state, Request{
			Config: core.AssistantConfig{DispatcherID: "primary"},
		})
		return err
	})

	f.inTx(t, state, func(tx core.Tx) error {
		_, err := delegate.HandBack(context.Background(), tx, chatPath, state, nil, nil)
		return err
	})

	// The second hand-over's former tenure comes back first.
	assert.Equal(t, "specialist", state.Config.DispatcherID)

	f.inTx(t, state, func(tx core.Tx) error {
		_, err := delegate.HandBack(context.Background(), tx, chatPath, state, nil, nil)
		return err
	})
	assert.Equal(t, "primary", state.Config.DispatcherID)
	assert.Equal(t, "session-0", state.SessionID)
}

func TestHandBackEmptyStackFails(t *testing.T) {
	f := newFixture(t)
	state := testutil.NewChatBuilder("u1").
		Config(core.AssistantConfig{DispatcherID: "primary"}).
		Seed(t, f.store, chatPath)

	err := f.store.RunTransaction(context.Background(), func(tx core.Tx) error {
		_, err := f.delegate.HandBack(context.Background(), tx, chatPath, state, nil, nil)
		return err
	})
	require.Error(t, err)
	assert.Equal(t, core.CodeFailedPrecondition, core.CodeOf(err))
	assert.True(t, core.IsPermanent(err))
}

func TestHandOverUnmatchedConfigFails(t *testing.T) {
	f := newFixture(t)
	state := testutil.NewChatBuilder("u1").
		Config(core.AssistantConfig{DispatcherID: "primary"}).
		Seed(t, f.store, chatPath)

	err := f.store.RunTransaction(context.Background(), func(tx core.Tx) error {
		_, err := f.delegate.HandOver(context.Background(), tx, chatPath, state, Request{
			Config: core.AssistantConfig{DispatcherID: "nobody"},
		})
		return err
	})
	require.Error(t, err)
	assert.Equal(t, core.CodeInternal, core.CodeOf(err))
}
