package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/lumenchat/quota/subscription"
)

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery for O(1) dispatch performance.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger

	// Type-cached plugin lists for efficient dispatch
	onInit                 []OnInit
	onShutdown             []OnShutdown
	onActionExecuted       []OnActionExecuted
	onActionDenied         []OnActionDenied
	onRateLimitReset       []OnRateLimitReset
	onCreditsInitialized   []OnCreditsInitialized
	onCreditsAdjusted      []OnCreditsAdjusted
	onSubscriptionUpdated  []OnSubscriptionUpdated
	onSubscriptionCanceled []OnSubscriptionCanceled
	onSubscriptionExpired  []OnSubscriptionExpired
	onEventsCommitted      []OnEventsCommitted
	onStateMigrated        []OnStateMigrated
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger: slog.Default(),
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Check for duplicate
	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	// Type-switch to cache interfaces
	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnActionExecuted); ok {
		r.onActionExecuted = append(r.onActionExecuted, v)
	}
	if v, ok := p.(OnActionDenied); ok {
		r.onActionDenied = append(r.onActionDenied, v)
	}
	if v, ok := p.(OnRateLimitReset); ok {
		r.onRateLimitReset = append(r.onRateLimitReset, v)
	}
	if v, ok := p.(OnCreditsInitialized); ok {
		r.onCreditsInitialized = append(r.onCreditsInitialized, v)
	}
	if v, ok := p.(OnCreditsAdjusted); ok {
		r.onCreditsAdjusted = append(r.onCreditsAdjusted, v)
	}
	if v, ok := p.(OnSubscriptionUpdated); ok {
		r.onSubscriptionUpdated = append(r.onSubscriptionUpdated, v)
	}
	if v, ok := p.(OnSubscriptionCanceled); ok {
		r.onSubscriptionCanceled = append(r.onSubscriptionCanceled, v)
	}
	if v, ok := p.(OnSubscriptionExpired); ok {
		r.onSubscriptionExpired = append(r.onSubscriptionExpired, v)
	}
	if v, ok := p.(OnEventsCommitted); ok {
		r.onEventsCommitted = append(r.onEventsCommitted, v)
	}
	if v, ok := p.(OnStateMigrated); ok {
		r.onStateMigrated = append(r.onStateMigrated, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", r.getImplementedInterfaces(p),
	)

	return nil
}

// getImplementedInterfaces returns a list of interfaces implemented by the plugin.
func (r *Registry) getImplementedInterfaces(p Plugin) []string {
	var interfaces []string
	v := reflect.TypeOf(p)

	// Check each interface
	checkInterface := func(iface reflect.Type, name string) {
		if v.Implements(iface) {
			interfaces = append(interfaces, name)
		}
	}

	// List all interfaces to check
	checkInterface(reflect.TypeOf((*OnInit)(nil)).Elem(), "OnInit")
	checkInterface(reflect.TypeOf((*OnShutdown)(nil)).Elem(), "OnShutdown")
	checkInterface(reflect.TypeOf((*OnActionExecuted)(nil)).Elem(), "OnActionExecuted")
	checkInterface(reflect.TypeOf((*OnActionDenied)(nil)).Elem(), "OnActionDenied")
	checkInterface(reflect.TypeOf((*OnRateLimitReset)(nil)).Elem(), "OnRateLimitReset")
	checkInterface(reflect.TypeOf((*OnCreditsInitialized)(nil)).Elem(), "OnCreditsInitialized")
	checkInterface(reflect.TypeOf((*OnCreditsAdjusted)(nil)).Elem(), "OnCreditsAdjusted")
	checkInterface(reflect.TypeOf((*OnSubscriptionUpdated)(nil)).Elem(), "OnSubscriptionUpdated")
	checkInterface(reflect.TypeOf((*OnSubscriptionCanceled)(nil)).Elem(), "OnSubscriptionCanceled")
	checkInterface(reflect.TypeOf((*OnSubscriptionExpired)(nil)).Elem(), "OnSubscriptionExpired")
	checkInterface(reflect.TypeOf((*OnEventsCommitted)(nil)).Elem(), "OnEventsCommitted")
	checkInterface(reflect.TypeOf((*OnStateMigrated)(nil)).Elem(), "OnStateMigrated")

	return interfaces
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine interface{}) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnInit(ctx, engine)
		}); err != nil {
			r.logger.Warn("plugin OnInit failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnShutdown(ctx)
		}); err != nil {
			r.logger.Warn("plugin OnShutdown failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitActionExecuted emits an action executed event.
func (r *Registry) EmitActionExecuted(ctx context.Context, userKey, actionType string, subscribed bool, creditsLeft int) {
	r.mu.RLock()
	plugins := r.onActionExecuted
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnActionExecuted(ctx, userKey, actionType, subscribed, creditsLeft)
		}); err != nil {
			r.logger.Warn("plugin OnActionExecuted failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitActionDenied emits an action denied event.
func (r *Registry) EmitActionDenied(ctx context.Context, userKey, actionType, reason string) {
	r.mu.RLock()
	plugins := r.onActionDenied
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnActionDenied(ctx, userKey, actionType, reason)
		}); err != nil {
			r.logger.Warn("plugin OnActionDenied failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitRateLimitReset emits a rate limit reset event.
func (r *Registry) EmitRateLimitReset(ctx context.Context, userKey, actionType string) {
	r.mu.RLock()
	plugins := r.onRateLimitReset
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnRateLimitReset(ctx, userKey, actionType)
		}); err != nil {
			r.logger.Warn("plugin OnRateLimitReset failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitCreditsInitialized emits a credits initialized event.
func (r *Registry) EmitCreditsInitialized(ctx context.Context, userKey string, amount int) {
	r.mu.RLock()
	plugins := r.onCreditsInitialized
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnCreditsInitialized(ctx, userKey, amount)
		}); err != nil {
			r.logger.Warn("plugin OnCreditsInitialized failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitCreditsAdjusted emits a credits adjusted event.
func (r *Registry) EmitCreditsAdjusted(ctx context.Context, userKey, operatorID string, requested, applied, newBalance int) {
	r.mu.RLock()
	plugins := r.onCreditsAdjusted
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnCreditsAdjusted(ctx, userKey, operatorID, requested, applied, newBalance)
		}); err != nil {
			r.logger.Warn("plugin OnCreditsAdjusted failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitSubscriptionUpdated emits a subscription updated event.
func (r *Registry) EmitSubscriptionUpdated(ctx context.Context, userKey string, tier subscription.Tier, ent subscription.Entitlement) {
	r.mu.RLock()
	plugins := r.onSubscriptionUpdated
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnSubscriptionUpdated(ctx, userKey, tier, ent)
		}); err != nil {
			r.logger.Warn("plugin OnSubscriptionUpdated failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitSubscriptionCanceled emits a subscription canceled event.
func (r *Registry) EmitSubscriptionCanceled(ctx context.Context, userKey string, tier subscription.Tier) {
	r.mu.RLock()
	plugins := r.onSubscriptionCanceled
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnSubscriptionCanceled(ctx, userKey, tier)
		}); err != nil {
			r.logger.Warn("plugin OnSubscriptionCanceled failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitSubscriptionExpired emits a subscription expired event.
func (r *Registry) EmitSubscriptionExpired(ctx context.Context, userKey string, tier subscription.Tier, ent subscription.Entitlement) {
	r.mu.RLock()
	plugins := r.onSubscriptionExpired
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnSubscriptionExpired(ctx, userKey, tier, ent)
		}); err != nil {
			r.logger.Warn("plugin OnSubscriptionExpired failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitEventsCommitted emits an events committed notification.
func (r *Registry) EmitEventsCommitted(ctx context.Context, userKey string, count int, version int64) {
	r.mu.RLock()
	plugins := r.onEventsCommitted
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnEventsCommitted(ctx, userKey, count, version)
		}); err != nil {
			r.logger.Warn("plugin OnEventsCommitted failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitStateMigrated emits a state migrated event.
func (r *Registry) EmitStateMigrated(ctx context.Context, userKey string, fromLegacy bool) {
	r.mu.RLock()
	plugins := r.onStateMigrated
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnStateMigrated(ctx, userKey, fromLegacy)
		}); err != nil {
			r.logger.Warn("plugin OnStateMigrated failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// callWithTimeout executes a plugin callback with a timeout so a single
// misbehaving plugin cannot stall the caller.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
