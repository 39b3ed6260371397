// Package config defines the gateway relay configuration. Configuration is
// loaded once at process startup and is immutable thereafter, following
// 12-Factor principles: values come from the environment (optionally seeded
// by a .env file for local development), and any missing required value fails
// the process immediately.
package config

import (
	"time"

	"github.com/zudduz/cscratch-dg/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used for credentials so they never appear in logs or config dumps.
type SecretString = types.SecretString

// Config is the top-level configuration for the gateway relay. Sub-components
// receive only the specific subsets they require.
type Config struct {
	LogLevel string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server  ServerConfig
	Discord DiscordConfig
	Engine  EngineConfig
	Relay   RelayConfig
}

// ServerConfig holds the liveness HTTP surface settings.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
}

// DiscordConfig holds the platform credential and application identity.
// A missing token is fatal at startup: without it the gateway cannot connect.
type DiscordConfig struct {
	Token         SecretString `envconfig:"DISCORD_TOKEN" validate:"required"`
	ApplicationID string       `envconfig:"DISCORD_APP_ID" validate:"required"`

	// GuildID, when set, scopes command registration to a single guild.
	// Guild-scoped commands propagate instantly, which is what you want in
	// development; global commands can take up to an hour.
	GuildID string `envconfig:"GUILD_ID"`
}

// EngineConfig holds the backend Engine endpoint and shared secret.
type EngineConfig struct {
	URL         string        `envconfig:"ENGINE_URL" validate:"required,url"`
	InternalKey SecretString  `envconfig:"INTERNAL_API_KEY" validate:"required"`
	Timeout     time.Duration `envconfig:"ENGINE_TIMEOUT" default:"10s"`
	UserAgent   string        `envconfig:"ENGINE_USER_AGENT" default:"cscratch-gateway/1.0"`
}

// RelayConfig tunes the dispatch queue and delivery retry behavior.
type RelayConfig struct {
	QueueSize   int `envconfig:"RELAY_QUEUE_SIZE" default:"256" validate:"min=1"`
	Workers     int `envconfig:"RELAY_WORKERS" default:"8" validate:"min=1"`
	MaxAttempts int `envconfig:"RELAY_MAX_ATTEMPTS" default:"3" validate:"min=1"`

	// AckWindow is how long a deferred interaction may wait for a delivery
	// outcome before it is force-expired. Discord interaction tokens are
	// valid for 15 minutes; expiring one minute early leaves the withdrawal
	// call a live token to use.
	AckWindow time.Duration `envconfig:"RELAY_ACK_WINDOW" default:"14m"`
}
