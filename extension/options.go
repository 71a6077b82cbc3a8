package extension

import (
	"time"

	quota "github.com/lumenchat/quota"
	"github.com/lumenchat/quota/plugin"
	"github.com/lumenchat/quota/store"
)

// Option configures the Quota Forge extension.
type Option func(*Extension)

// WithStore sets the store for the quota engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithEngineOption passes a quota.Option through to the underlying engine.
func WithEngineOption(opt quota.Option) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, opt)
	}
}

// WithPlugin registers a quota plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, quota.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithInitialCredits sets the balance granted on first consumption.
func WithInitialCredits(n int) Option {
	return func(e *Extension) { e.config.InitialCredits = n }
}

// WithCreditsPerAction sets the cost deducted per gated action.
func WithCreditsPerAction(n int) Option {
	return func(e *Extension) { e.config.CreditsPerAction = n }
}

// WithOperators sets the operator IDs permitted to adjust balances.
func WithOperators(ids ...string) Option {
	return func(e *Extension) { e.config.Operators = ids }
}

// WithInviteRewardWindow sets how long after account creation an invite
// reward may be redeemed.
func WithInviteRewardWindow(d time.Duration) Option {
	return func(e *Extension) { e.config.InviteRewardWindow = d }
}

// WithGroveDatabase records the name of the grove.DB backing the store.
// The store itself must still be supplied via WithStore (postgres.New,
// sqlite.New or mongo.New); when it is missing, Register warns and falls
// back to the in-memory store.
func WithGroveDatabase(name string) Option {
	return func(e *Extension) {
		e.config.GroveDatabase = name
		e.useGrove = true
	}
}
