package quota

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lumenchat/quota/plugin"
	"github.com/lumenchat/quota/store"
)

// Engine is the per-user quota and subscription engine. Every user's state
// is owned by a single actor goroutine; all operations for one user key are
// serialized through that actor's mailbox, so the reducer and gate logic
// never see concurrent mutation of the same state.
type Engine struct {
	store   store.Store
	plugins *plugin.Registry
	logger  *slog.Logger
	cfg     Config
	now     func() time.Time

	mu     sync.Mutex
	actors map[string]*actor
	closed bool

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates a new Engine instance.
func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:    s,
		plugins:  plugin.NewRegistry(),
		logger:   slog.Default(),
		cfg:      DefaultConfig(),
		now:      time.Now,
		actors:   make(map[string]*actor),
		stopChan: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Option configures an Engine instance.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithConfig replaces the default configuration. The config is copied, so
// later mutation of the supplied value has no effect.
func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		e.cfg = cfg.clone()
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		_ = e.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithSnapshotInterval overrides how many committed events pass between
// snapshots. Zero disables snapshotting.
func WithSnapshotInterval(n int64) Option {
	return func(e *Engine) {
		e.cfg.SnapshotInterval = n
	}
}

// WithClock replaces the wall clock, used by tests to drive refill and
// expiry deterministically.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// Start migrates the store and initializes plugins.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	e.plugins.EmitInit(ctx, e)

	e.logger.Info("quota engine started",
		"initial_credits", e.cfg.InitialCredits,
		"credits_per_action", e.cfg.CreditsPerAction,
		"snapshot_interval", e.cfg.SnapshotInterval,
	)

	return nil
}

// Stop shuts down the Engine. Pending operations receive ErrEngineClosed.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	close(e.stopChan)
	e.wg.Wait()

	ctx := context.Background()
	e.plugins.EmitShutdown(ctx)

	return e.store.Close()
}

// Plugins returns the plugin registry.
func (e *Engine) Plugins() *plugin.Registry {
	return e.plugins
}

// Ping reports store health.
func (e *Engine) Ping(ctx context.Context) error {
	return e.store.Ping(ctx)
}

// ──────────────────────────────────────────────────
// Actor registry
// ──────────────────────────────────────────────────

// actorFor returns the live actor for a user key, creating one on first use.
func (e *Engine) actorFor(userKey string) (*actor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrEngineClosed
	}
	if a, ok := e.actors[userKey]; ok {
		return a, nil
	}

	a := newActor(e, userKey)
	e.actors[userKey] = a
	e.wg.Add(1)
	go a.run()

	return a, nil
}

// removeActor drops a failed actor so the next call for its key starts a
// fresh replay.
func (e *Engine) removeActor(a *actor) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cur, ok := e.actors[a.userKey]; ok && cur == a {
		delete(e.actors, a.userKey)
	}
}

// do submits an operation to the user's actor and waits for its result.
// The operation itself runs detached from the caller's context: a caller
// that cancels after commit still observes the committed side effect.
func (e *Engine) do(ctx context.Context, userKey string, fn func(ctx context.Context, a *actor) error) error {
	if userKey == "" {
		return fmt.Errorf("%w: empty user key", ErrInvalidInput)
	}

	a, err := e.actorFor(userKey)
	if err != nil {
		return err
	}

	c := &call{fn: fn, errc: make(chan error, 1)}
	select {
	case a.mailbox <- c:
	case <-a.done:
		return fmt.Errorf("%w: %s", ErrActorFailed, userKey)
	default:
		return fmt.Errorf("%w: %s", ErrMailboxFull, userKey)
	}

	select {
	case err := <-c.errc:
		return err
	case <-a.done:
		// The actor exited after we enqueued. Prefer a real answer if
		// one was delivered before the exit.
		select {
		case err := <-c.errc:
			return err
		default:
		}
		return fmt.Errorf("%w: %s", ErrActorFailed, userKey)
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopChan:
		return ErrEngineClosed
	}
}
