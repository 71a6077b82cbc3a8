// Package extension provides the Forge extension adapter for Quota.
//
// It implements the forge.Extension interface to integrate the quota
// engine into a Forge application with automatic dependency discovery,
// DI registration, and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.quota" or "quota" keys.
package extension

import (
	"context"
	"errors"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	quota "github.com/lumenchat/quota"
	"github.com/lumenchat/quota/store"
	"github.com/lumenchat/quota/store/memory"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "quota"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Per-user quota, credits and subscription engine"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts the quota engine as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *quota.Engine
	store      store.Store
	engineOpts []quota.Option
	useGrove   bool
}

// New creates a new Quota Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying quota engine.
// This is nil until Register is called.
func (e *Extension) Engine() *quota.Engine { return e.engine }

// Register implements [forge.Extension]. It loads configuration,
// initializes the quota engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	// Use memory store if no store was provided programmatically.
	if e.store == nil {
		if e.useGrove || e.config.GroveDatabase != "" {
			e.Logger().Warn("quota: grove database configured but no store provided; "+
				"construct the store with postgres.New/sqlite.New/mongo.New and pass it via WithStore",
				forge.F("grove_database", e.config.GroveDatabase),
			)
		}
		e.store = memory.New()
	}

	// Build engine options from resolved config.
	opts := e.buildEngineOpts()

	eng := quota.New(e.store, opts...)
	e.engine = eng

	return vessel.Provide(fapp.Container(), func() (*quota.Engine, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("quota: extension not initialized")
	}

	if !e.config.DisableMigrate {
		if err := e.engine.Start(ctx); err != nil {
			return err
		}
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("quota: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildEngineOpts constructs quota.Option values from the resolved config.
func (e *Extension) buildEngineOpts() []quota.Option {
	opts := make([]quota.Option, 0, len(e.engineOpts)+2)

	cfg := quota.DefaultConfig()
	if e.config.InitialCredits > 0 {
		cfg.InitialCredits = e.config.InitialCredits
	}
	if e.config.CreditsPerAction > 0 {
		cfg.CreditsPerAction = e.config.CreditsPerAction
	}
	if len(e.config.Operators) > 0 {
		cfg.Operators = e.config.Operators
	}
	if e.config.SnapshotInterval > 0 {
		cfg.SnapshotInterval = int64(e.config.SnapshotInterval)
	}
	if e.config.MailboxSize > 0 {
		cfg.MailboxSize = e.config.MailboxSize
	}
	if e.config.InviteRewardWindow > 0 {
		cfg.InviteRewardWindow = e.config.InviteRewardWindow
	}
	opts = append(opts, quota.WithConfig(cfg))

	// Append any pass-through engine options.
	opts = append(opts, e.engineOpts...)

	return opts
}

// --- Config Loading (mirrors grove/shield extension pattern) ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("quota: configuration is required but not found in config files; " +
				"ensure 'extensions.quota' or 'quota' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = e.mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = e.mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("quota: configuration loaded",
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("initial_credits", e.config.InitialCredits),
		forge.F("credits_per_action", e.config.CreditsPerAction),
		forge.F("operators", len(e.config.Operators)),
		forge.F("snapshot_interval", e.config.SnapshotInterval),
		forge.F("mailbox_size", e.config.MailboxSize),
		forge.F("invite_reward_window", e.config.InviteRewardWindow),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	// Try "extensions.quota" first (namespaced pattern).
	if cm.IsSet("extensions.quota") {
		if err := cm.Bind("extensions.quota", &cfg); err == nil {
			e.Logger().Debug("quota: loaded config from file",
				forge.F("key", "extensions.quota"),
			)
			return cfg, true
		}
		e.Logger().Warn("quota: failed to bind extensions.quota config",
			forge.F("error", "bind failed"),
		)
	}

	// Try legacy "quota" key.
	if cm.IsSet("quota") {
		if err := cm.Bind("quota", &cfg); err == nil {
			e.Logger().Debug("quota: loaded config from file",
				forge.F("key", "quota"),
			)
			return cfg, true
		}
		e.Logger().Warn("quota: failed to bind quota config",
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func (e *Extension) mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.InitialCredits == 0 {
		cfg.InitialCredits = defaults.InitialCredits
	}
	if cfg.CreditsPerAction == 0 {
		cfg.CreditsPerAction = defaults.CreditsPerAction
	}
	if cfg.SnapshotInterval == 0 {
		cfg.SnapshotInterval = defaults.SnapshotInterval
	}
	if cfg.MailboxSize == 0 {
		cfg.MailboxSize = defaults.MailboxSize
	}
	if cfg.InviteRewardWindow == 0 {
		cfg.InviteRewardWindow = defaults.InviteRewardWindow
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic bool flags fill gaps.
func (e *Extension) mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}

	// String fields: YAML takes precedence.
	if yamlConfig.GroveDatabase == "" && programmaticConfig.GroveDatabase != "" {
		yamlConfig.GroveDatabase = programmaticConfig.GroveDatabase
	}

	// Slice fields: YAML takes precedence, programmatic fills gaps.
	if len(yamlConfig.Operators) == 0 && len(programmaticConfig.Operators) != 0 {
		yamlConfig.Operators = programmaticConfig.Operators
	}

	// Duration/int fields: YAML takes precedence, programmatic fills gaps.
	if yamlConfig.InitialCredits == 0 && programmaticConfig.InitialCredits != 0 {
		yamlConfig.InitialCredits = programmaticConfig.InitialCredits
	}
	if yamlConfig.CreditsPerAction == 0 && programmaticConfig.CreditsPerAction != 0 {
		yamlConfig.CreditsPerAction = programmaticConfig.CreditsPerAction
	}
	if yamlConfig.SnapshotInterval == 0 && programmaticConfig.SnapshotInterval != 0 {
		yamlConfig.SnapshotInterval = programmaticConfig.SnapshotInterval
	}
	if yamlConfig.MailboxSize == 0 && programmaticConfig.MailboxSize != 0 {
		yamlConfig.MailboxSize = programmaticConfig.MailboxSize
	}
	if yamlConfig.InviteRewardWindow == 0 && programmaticConfig.InviteRewardWindow != 0 {
		yamlConfig.InviteRewardWindow = programmaticConfig.InviteRewardWindow
	}

	// Fill remaining zeros with defaults.
	return e.mergeWithDefaults(yamlConfig)
}
