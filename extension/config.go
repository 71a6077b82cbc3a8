package extension

import "time"

// Config holds the Quota extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.quota" or "quota" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// InitialCredits is the balance granted on first consumption
	// (default: 320).
	InitialCredits int `json:"initial_credits" mapstructure:"initial_credits" yaml:"initial_credits"`

	// CreditsPerAction is the cost deducted per gated action (default: 10).
	CreditsPerAction int `json:"credits_per_action" mapstructure:"credits_per_action" yaml:"credits_per_action"`

	// Operators lists the operator IDs permitted to adjust balances and
	// grant subscriptions.
	Operators []string `json:"operators" mapstructure:"operators" yaml:"operators"`

	// SnapshotInterval is the number of events between state snapshots
	// (default: 50). Zero disables snapshotting.
	SnapshotInterval int `json:"snapshot_interval" mapstructure:"snapshot_interval" yaml:"snapshot_interval"`

	// MailboxSize is the per-user mailbox depth before callers are
	// rejected (default: 64).
	MailboxSize int `json:"mailbox_size" mapstructure:"mailbox_size" yaml:"mailbox_size"`

	// InviteRewardWindow is how long after account creation an invite
	// reward may be redeemed (default: 72h).
	InviteRewardWindow time.Duration `json:"invite_reward_window" mapstructure:"invite_reward_window" yaml:"invite_reward_window"`

	// GroveDatabase names the grove.DB backing the store. It is recorded
	// for logging only; the store must be provided via WithStore, and
	// Register falls back to the in-memory store (with a warning) when
	// grove is named but no store was given.
	GroveDatabase string `json:"grove_database" mapstructure:"grove_database" yaml:"grove_database"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		InitialCredits:     320,
		CreditsPerAction:   10,
		SnapshotInterval:   50,
		MailboxSize:        64,
		InviteRewardWindow: 72 * time.Hour,
	}
}
