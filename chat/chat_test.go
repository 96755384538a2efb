package chat

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

type apiFixture struct {
	store     *memory.Store
	scheduler *testutil.CommandScheduler
	api       *API
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	f := &apiFixture{
		store:     memory.NewStore(),
		scheduler: &testutil.CommandScheduler{SupportsID: "test"},
	}
	f.api = New(f.store, core.NewSchedulerRegistry(f.scheduler), func(o *Options) {
		o.Clock = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	})
	return f
}

func (f *apiFixture) readChat(t *testing.T, chatPath string) *core.ChatState {
	t.Helper()
	var state *core.ChatState
	err := f.store.RunTransaction(context.Background(), func(tx core.Tx) error {
		var err error
		state, err = core.GetChat(tx, chatPath)
		return err
	})
	require.NoError(t, err)
	require.NotNil(t, state)
	return state
}

func TestCreateWithMessagesSchedulesCreateAndRun(t *testing.T) {
	f := newAPIFixture(t)

	res, err := f.api.Create(context.Background(), CreateRequest{
		UserID: "u1",
		Config: core.AssistantConfig{DispatcherID: "test"},
		Messages: []core.NewMessage{
			core.UserMessage("hello"),
			core.UserMessage("second thought"),
		},
		Data: map[string]any{"topic": "billing"},
	})
	require.NoError(t, err)
	assert.Equal(t, core.StatusProcessing, res.Update.Status)
	assert.Equal(t, map[string]any{"topic": "billing"}, res.Update.Data)

	state := f.readChat(t, res.ChatPath)
	assert.Equal(t, "u1", state.UserID)
	assert.NotEmpty(t, state.LatestDispatchID)

	messages, err := core.ListMessages(context.Background(), f.store, res.ChatPath, 0)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, 0, messages[0].SortIndex)
	assert.Equal(t, 1, messages[1].SortIndex)
	assert.Equal(t, state.LatestDispatchID, messages[0].DispatchID)
	assert.Equal(t, state.LatestDispatchID, messages[1].DispatchID)

	call := f.scheduler.LastCall()
	require.NotNil(t, call)
	assert.Equal(t, "createAndRun", call.Op)
	assert.Equal(t, res.ChatPath, call.Common.ChatPath)
	assert.Equal(t, state.LatestDispatchID, call.Common.DispatchID)
}

func TestCreateWithoutMessagesSchedulesBareCreate(t *testing.T) {
	f := newAPIFixture(t)

	res, err := f.api.Create(context.Background(), CreateRequest{
		UserID: "u1",
		Config: core.AssistantConfig{DispatcherID: "test"},
	})
	require.NoError(t, err)

	call := f.scheduler.LastCall()
	require.NotNil(t, call)
	assert.Equal(t, "create", call.Op)

	messages, err := core.ListMessages(context.Background(), f.store, res.ChatPath, 0)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestSingleRunSchedulesSingleRun(t *testing.T) {
	f := newAPIFixture(t)

	_, err := f.api.SingleRun(context.Background(), CreateRequest{
		UserID:   "u1",
		Config:   core.AssistantConfig{DispatcherID: "test"},
		Messages: []core.NewMessage{core.UserMessage("analyze this")},
	})
	require.NoError(t, err)

	call := f.scheduler.LastCall()
	require.NotNil(t, call)
	assert.Equal(t, "singleRun", call.Op)
}

func TestPostMessageAdvancesDispatch(t *testing.T) {
	f := newAPIFixture(t)
	seeded := testutil.NewChatBuilder("u1").
		Status(core.StatusUserInput).
		Dispatch("d1").
		Session("sess-1").
		Seed(t, f.store, "chats/c1")

	update, err := f.api.PostMessage(context.Background(), "chats/c1", PostRequest{
		UserID:   "u1",
		Messages: []core.NewMessage{core.UserMessage("and another thing")},
	})
	require.NoError(t, err)
	assert.Equal(t, core.StatusProcessing, update.Status)

	state := f.readChat(t, "chats/c1")
	assert.NotEqual(t, seeded.LatestDispatchID, state.LatestDispatchID)

	call := f.scheduler.LastCall()
	require.NotNil(t, call)
	assert.Equal(t, "postAndRun", call.Op)
	assert.Equal(t, state.LatestDispatchID, call.Common.DispatchID)

	messages, err := core.ListMessages(context.Background(), f.store, "chats/c1", 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, state.LatestDispatchID, messages[0].DispatchID)
	assert.Equal(t, "sess-1", messages[0].SessionID)
}

func TestPostMessageRejectsBusyChat(t *testing.T) {
	f := newAPIFixture(t)
	testutil.NewChatBuilder("u1").
		Status(core.StatusProcessing).
		Dispatch("d1").
		Seed(t, f.store, "chats/c1")

	_, err := f.api.PostMessage(context.Background(), "chats/c1", PostRequest{
		UserID:   "u1",
		Messages: []core.NewMessage{core.UserMessage("hello?")},
	})
	require.Error(t, err)
	assert.Equal(t, core.CodeFailedPrecondition, core.CodeOf(err))
	assert.Contains(t, err.Error(), "Can't perform this operation due to current chat state")

	// Nothing written, nothing scheduled.
	state := f.readChat(t, "chats/c1")
	assert.Equal(t, "d1", state.LatestDispatchID)
	messages, err := core.ListMessages(context.Background(), f.store, "chats/c1", 0)
	require.NoError(t, err)
	assert.Empty(t, messages)
	assert.Empty(t, f.scheduler.Calls())
}

func TestPostMessageRejectsForeignUser(t *testing.T) {
	f := newAPIFixture(t)
	testutil.NewChatBuilder("u1").Status(core.StatusUserInput).Seed(t, f.store, "chats/c1")

	_, err := f.api.PostMessage(context.Background(), "chats/c1", PostRequest{
		UserID:   "intruder",
		Messages: []core.NewMessage{core.UserMessage("mine now")},
	})
	require.Error(t, err)
	assert.Equal(t, core.CodePermissionDenied, core.CodeOf(err))
}

func TestPostMessageMissingChat(t *testing.T) {
	f := newAPIFixture(t)

	_, err := f.api.PostMessage(context.Background(), "chats/nope", PostRequest{
		UserID:   "u1",
		Messages: []core.NewMessage{core.UserMessage("anyone home")},
	})
	require.Error(t, err)
	assert.Equal(t, core.CodeNotFound, core.CodeOf(err))
}

func TestCloseChatTransitionsToClosing(t *testing.T) {
	f := newAPIFixture(t)
	seeded := testutil.NewChatBuilder("u1").
		Status(core.StatusUserInput).
		Dispatch("d1").
		Seed(t, f.store, "chats/c1")

	update, err := f.api.CloseChat(context.Background(), "chats/c1", "u1", nil)
	require.NoError(t, err)
	assert.Equal(t, core.StatusClosing, update.Status)

	state := f.readChat(t, "chats/c1")
	assert.Equal(t, core.StatusClosing, state.Status)
	assert.NotEqual(t, seeded.LatestDispatchID, state.LatestDispatchID)

	call := f.scheduler.LastCall()
	require.NotNil(t, call)
	assert.Equal(t, "close", call.Op)
}

func TestCloseChatRejectsClosedStatuses(t *testing.T) {
	f := newAPIFixture(t)
	for _, status := range []core.ChatStatus{core.StatusClosing, core.StatusComplete, core.StatusFailed} {
		chatPath := "chats/" + string(status)
		testutil.NewChatBuilder("u1").Status(status).Seed(t, f.store, chatPath)

		_, err := f.api.CloseChat(context.Background(), chatPath, "u1", nil)
		require.Error(t, err, "status %s", status)
		assert.Equal(t, core.CodeFailedPrecondition, core.CodeOf(err))
	}
}

func TestCloseChatInterruptsProcessing(t *testing.T) {
	f := newAPIFixture(t)
	testutil.NewChatBuilder("u1").Status(core.StatusProcessing).Dispatch("d1").Seed(t, f.store, "chats/c1")

	_, err := f.api.CloseChat(context.Background(), "chats/c1", "u1", nil)
	require.NoError(t, err)

	// The bumped dispatch id makes the in-flight run a stale no-op.
	state := f.readChat(t, "chats/c1")
	assert.NotEqual(t, "d1", state.LatestDispatchID)
}

func TestGetStateAndMessages(t *testing.T) {
	f := newAPIFixture(t)
	testutil.NewChatBuilder("u1").Status(core.StatusUserInput).Seed(t, f.store, "chats/c1")

	state, err := f.api.GetState(context.Background(), "chats/c1", "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", state.UserID)

	_, err = f.api.GetState(context.Background(), "chats/c1", "someone-else")
	require.Error(t, err)
	assert.Equal(t, core.CodePermissionDenied, core.CodeOf(err))

	_, err = f.api.Messages(context.Background(), "chats/missing", "u1", 0)
	require.Error(t, err)
	assert.Equal(t, core.CodeNotFound, core.CodeOf(err))
}
