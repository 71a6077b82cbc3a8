package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/lumenchat/quota/event"
	"github.com/lumenchat/quota/id"
	"github.com/lumenchat/quota/store"
)

// call is one mailboxed operation and its reply channel.
type call struct {
	fn   func(ctx context.Context, a *actor) error
	errc chan error
}

// actor owns one user's quota state. All operations for the key run on the
// actor's goroutine in mailbox order. In-memory state is a cached fold of
// the committed log, rebuilt on first use from the latest snapshot plus the
// event tail.
type actor struct {
	engine  *Engine
	userKey string
	mailbox chan *call
	done    chan struct{}

	state        event.State
	version      int64
	lastSnapshot int64
	loaded       bool
	failed       bool
}

func newActor(e *Engine, userKey string) *actor {
	size := e.cfg.MailboxSize
	if size <= 0 {
		size = 1
	}
	return &actor{
		engine:  e,
		userKey: userKey,
		mailbox: make(chan *call, size),
		done:    make(chan struct{}),
	}
}

func (a *actor) run() {
	defer a.engine.wg.Done()

	for {
		select {
		case c := <-a.mailbox:
			c.errc <- a.handle(c.fn)
			if a.failed {
				a.engine.removeActor(a)
				a.drain()
				// Closed after the drain so a send that raced past
				// removal still unblocks its caller.
				close(a.done)
				return
			}
		case <-a.engine.stopChan:
			return
		}
	}
}

// handle runs one operation, replaying state first if needed. A panic in
// the reducer or gate logic faults the actor: partial application of a
// multi-field event is never acceptable, so the actor dies and the next
// call for this key replays from the committed log.
func (a *actor) handle(fn func(context.Context, *actor) error) (err error) {
	ctx := context.Background()

	defer func() {
		if r := recover(); r != nil {
			a.failed = true
			a.engine.logger.Error("quota actor failed",
				"user_key", a.userKey,
				"version", a.version,
				"panic", r,
			)
			err = fmt.Errorf("%w: %v", ErrActorFailed, r)
		}
	}()

	if !a.loaded {
		if err := a.load(ctx); err != nil {
			return err
		}
	}

	return fn(ctx, a)
}

// drain rejects every queued operation after a failure.
func (a *actor) drain() {
	for {
		select {
		case c := <-a.mailbox:
			c.errc <- ErrActorFailed
		default:
			return
		}
	}
}

// load rebuilds state from the latest snapshot plus the event tail. A user
// whose log is empty is materialized through the one-shot legacy migration.
func (a *actor) load(ctx context.Context) error {
	snap, err := a.engine.store.LoadSnapshot(ctx, a.userKey)
	switch {
	case err == nil:
		a.state = snap.State.Clone()
		a.version = snap.Version
	case errors.Is(err, ErrNotFound):
		a.state = event.NewState(a.engine.now().UTC())
		a.version = 0
	default:
		return fmt.Errorf("load snapshot: %w", err)
	}

	envs, err := a.engine.store.LoadEvents(ctx, a.userKey, a.version)
	if err != nil {
		return fmt.Errorf("load events: %w", err)
	}
	for _, env := range envs {
		ev, derr := event.Decode(env)
		if derr != nil {
			panic(fmt.Sprintf("decode committed event %s v%d: %v", a.userKey, env.Version, derr))
		}
		a.state = event.Reduce(a.state, ev)
		a.version = env.Version
	}

	a.lastSnapshot = a.version
	a.loaded = true

	if a.version == 0 {
		return a.migrate(ctx)
	}

	return nil
}

// migrate commits the first event of a brand-new log, consulting the legacy
// per-user record exactly once.
func (a *actor) migrate(ctx context.Context) error {
	legacy, err := a.engine.store.LoadLegacyState(ctx, a.userKey)
	fromLegacy := err == nil

	var seed event.State
	switch {
	case fromLegacy:
		seed = legacy.Clone()
	case errors.Is(err, ErrNotFound):
		seed = event.NewState(a.engine.now().UTC())
	default:
		return fmt.Errorf("load legacy state: %w", err)
	}

	if err := a.commit(ctx, event.MigrateLegacyState{State: seed}); err != nil {
		return err
	}

	a.engine.plugins.EmitStateMigrated(ctx, a.userKey, fromLegacy)
	a.engine.logger.Info("account state materialized",
		"user_key", a.userKey,
		"from_legacy", fromLegacy,
	)

	return nil
}

// commit appends a batch of events as one atomic write, then folds them
// into the in-memory state. The fold runs against a scratch copy first, so
// an append failure leaves the cached state untouched.
func (a *actor) commit(ctx context.Context, events ...event.Event) error {
	if len(events) == 0 {
		return nil
	}

	now := a.engine.now().UTC()
	next := a.state
	envs := make([]event.Envelope, len(events))
	for i, ev := range events {
		env, err := event.Encode(a.userKey, a.version+int64(i)+1, ev, now)
		if err != nil {
			return fmt.Errorf("encode %s: %w", ev.Kind(), err)
		}
		envs[i] = env
		next = event.Reduce(next, ev)
	}

	if err := a.engine.store.AppendEvents(ctx, a.userKey, a.version, envs); err != nil {
		return fmt.Errorf("append events: %w", err)
	}

	a.state = next
	a.version += int64(len(events))
	a.engine.plugins.EmitEventsCommitted(ctx, a.userKey, len(events), a.version)

	if n := a.engine.cfg.SnapshotInterval; n > 0 && a.version-a.lastSnapshot >= n {
		a.saveSnapshot(ctx)
	}

	return nil
}

// saveSnapshot persists the current fold. Failure is tolerated: the log
// remains the source of truth and replay just has a longer tail.
func (a *actor) saveSnapshot(ctx context.Context) {
	snap := &store.Snapshot{
		ID:      id.NewSnapshotID(),
		UserKey: a.userKey,
		Version: a.version,
		State:   a.state.Clone(),
		TakenAt: a.engine.now().UTC(),
	}
	if err := a.engine.store.SaveSnapshot(ctx, snap); err != nil {
		a.engine.logger.Warn("snapshot save failed",
			"user_key", a.userKey,
			"version", a.version,
			"error", err,
		)
		return
	}
	a.lastSnapshot = a.version
}
