// Package chatloom provides a high-level facade over the chat orchestration
// engine: the dispatch guard, command queue runner, continuation engine,
// hand-over delegate and the front-facing chat API. Most applications interact
// with this package by:
//  1. Creating a Loom via New() with their task-queue transport (optionally
//     overriding the default in-memory record store)
//  2. Registering command schedulers, tool dispatchers and action handlers
//  3. Driving chats through Chats() and feeding queue deliveries to Runner()
//
// The facade only wires components together; every part can also be
// constructed directly. All defaults are safe for local development and
// testing; production deployments supply a durable record store and a
// structured logger.
package chatloom

import (
	"github.com/chatloom/chatloom/chat"
	"github.com/chatloom/chatloom/cleaner"
	"github.com/chatloom/chatloom/continuation"
	"github.com/chatloom/chatloom/core"
	"github.com/chatloom/chatloom/dispatch"
	"github.com/chatloom/chatloom/handover"
	"github.com/chatloom/chatloom/logging"
	"github.com/chatloom/chatloom/middleware"
	"github.com/chatloom/chatloom/store/memory"
)

// Options configures the Loom instance.
type Options struct {
	// Store is the durable record store (defaults to in-memory).
	Store core.RecordStore
	// DefaultQueue receives commands not bound to an explicit queue.
	DefaultQueue string
	// Middlewares process assistant output before it reaches the transcript.
	Middlewares []middleware.Middleware
	// Logger receives structured diagnostics (defaults to NoOp).
	Logger logging.Logger
}

// Loom is the high-level facade aggregating the engine's components over one
// record store and one task-queue transport.
type Loom struct {
	store         core.RecordStore
	tasks         core.TaskScheduler
	schedulers    *core.SchedulerRegistry
	tools         *continuation.Registry
	cleaner       *cleaner.Cleaner
	guard         *dispatch.Guard
	runner        *dispatch.Runner
	continuations *continuation.Dispatcher
	resume        *continuation.Scheduler
	delegate      *handover.Delegate
	chain         *middleware.Chain
	api           *chat.API
}

// New creates a Loom over the given task-queue transport with optional
// overrides. Any unset collaborator is initialized with its default
// implementation.
func New(tasks core.TaskScheduler, optFns ...func(o *Options)) *Loom {
	opts := Options{
		Store:        memory.NewStore(),
		DefaultQueue: "chat-worker",
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	schedulers := core.NewSchedulerRegistry()
	tools := continuation.NewRegistry()
	clean := cleaner.New(opts.Store, tasks, opts.DefaultQueue, func(o *cleaner.Options) {
		o.Logger = opts.Logger
	})
	guard := dispatch.NewGuard(opts.Store, tasks, func(o *dispatch.GuardOptions) {
		o.Cleaner = clean
		o.Logger = opts.Logger
	})
	runner := dispatch.NewRunner(guard, opts.Store, tasks, func(o *dispatch.RunnerOptions) {
		o.Logger = opts.Logger
	})
	engine := continuation.NewEngine(tools)

	return &Loom{
		store:      opts.Store,
		tasks:      tasks,
		schedulers: schedulers,
		tools:      tools,
		cleaner:    clean,
		guard:      guard,
		runner:     runner,
		continuations: continuation.NewDispatcher(opts.Store, engine, func(o *continuation.DispatcherOptions) {
			o.Logger = opts.Logger
		}),
		resume: continuation.NewScheduler(opts.Store, tasks, opts.DefaultQueue, func(o *continuation.SchedulerOptions) {
			o.Logger = opts.Logger
		}),
		delegate: handover.New(opts.Store, schedulers, func(o *handover.Options) {
			o.Logger = opts.Logger
		}),
		chain: middleware.NewChain(opts.Middlewares...),
		api: chat.New(opts.Store, schedulers, func(o *chat.Options) {
			o.Logger = opts.Logger
		}),
	}
}

// RegisterScheduler adds a command scheduler to the resolution order.
func (l *Loom) RegisterScheduler(s core.CommandScheduler) { l.schedulers.Register(s) }

// RegisterTools binds a tool dispatcher id.
func (l *Loom) RegisterTools(id string, d continuation.ToolDispatcher) { l.tools.Register(id, d) }

// RegisterAction binds an action name to its queue handler.
func (l *Loom) RegisterAction(name string, h dispatch.ActionHandler) { l.runner.RegisterHandler(name, h) }

// Validate checks that every given assistant config resolves to exactly one
// command scheduler. Call it at startup after registration.
func (l *Loom) Validate(configs ...core.AssistantConfig) error {
	return l.schedulers.Validate(configs...)
}

// Chats returns the front-facing chat API.
func (l *Loom) Chats() *chat.API { return l.api }

// Runner returns the command queue runner fed by queue deliveries.
func (l *Loom) Runner() *dispatch.Runner { return l.runner }

// Continuations returns the tool continuation dispatcher used by action
// handlers.
func (l *Loom) Continuations() *continuation.Dispatcher { return l.continuations }

// ContinuationScheduler returns the entry point for out-of-band tool
// completions.
func (l *Loom) ContinuationScheduler() *continuation.Scheduler { return l.resume }

// HandOverDelegate returns the delegate middlewares and handlers use to move
// chats between assistants.
func (l *Loom) HandOverDelegate() *handover.Delegate { return l.delegate }

// Middlewares returns the assistant output processing chain.
func (l *Loom) Middlewares() *middleware.Chain { return l.chain }

// Cleaner returns the cleanup registrar for teardown commands.
func (l *Loom) Cleaner() core.Cleaner { return l.cleaner }

// Store returns the underlying record store.
func (l *Loom) Store() core.RecordStore { return l.store }
