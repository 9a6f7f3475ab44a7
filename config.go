package auth

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"gopkg.in/yaml.v3"
)

// EnvPrefix namespaces the environment overrides read by LoadConfig.
const EnvPrefix = "TRAILBLAZE_"

// AuthSettings configures token issuance and validation.
type AuthSettings struct {
	SigningKey           string            `yaml:"signing_key" json:"-"`
	SigningKeyID         string            `yaml:"signing_key_id" json:"signing_key_id"`
	SigningKeys          map[string]string `yaml:"signing_keys" json:"-"`
	TokenTTLExpression   string            `yaml:"token_ttl" json:"token_ttl"`
	Issuer               string            `yaml:"issuer" json:"issuer"`
	ContextKey           string            `yaml:"context_key" json:"context_key"`
	TokenLookup          string            `yaml:"token_lookup" json:"token_lookup"`
	AuthScheme           string            `yaml:"auth_scheme" json:"auth_scheme"`
	RemovalRevokesTokens bool              `yaml:"removal_revokes_tokens" json:"removal_revokes_tokens"`
	RootPassword         string            `yaml:"root_password" json:"-"`
}

// ServerSettings configures the HTTP listener.
type ServerSettings struct {
	Address string `yaml:"address" json:"address"`
	Debug   bool   `yaml:"debug" json:"debug"`
}

// PersistenceSettings configures the SQL store.
type PersistenceSettings struct {
	DSN                     string `yaml:"dsn" json:"dsn"`
	Driver                  string `yaml:"driver" json:"driver"`
	Debug                   bool   `yaml:"debug" json:"debug"`
	PingTimeoutExpression   string `yaml:"ping_timeout" json:"ping_timeout"`
	OtelIdentifier          string `yaml:"otel_identifier" json:"otel_identifier"`
	PruneIntervalExpression string `yaml:"prune_interval" json:"prune_interval"`
}

func (p PersistenceSettings) GetDSN() string            { return p.DSN }
func (p PersistenceSettings) GetServer() string         { return p.DSN }
func (p PersistenceSettings) GetDriver() string         { return p.Driver }
func (p PersistenceSettings) GetDebug() bool            { return p.Debug }
func (p PersistenceSettings) GetOtelIdentifier() string { return p.OtelIdentifier }

func (p PersistenceSettings) GetPingTimeout() time.Duration {
	d, err := time.ParseDuration(p.PingTimeoutExpression)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

// AppConfig is the process configuration. It implements Config.
type AppConfig struct {
	Auth        AuthSettings        `yaml:"auth" json:"auth"`
	Server      ServerSettings      `yaml:"server" json:"server"`
	Persistence PersistenceSettings `yaml:"persistence" json:"persistence"`
}

var _ Config = (*AppConfig)(nil)

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Auth: AuthSettings{
			SigningKeyID:         DefaultKeyID,
			TokenTTLExpression:   DefaultTokenTTL.String(),
			ContextKey:           "user",
			TokenLookup:          "header:Authorization",
			AuthScheme:           "Bearer",
			RemovalRevokesTokens: true,
		},
		Server: ServerSettings{
			Address: ":8080",
		},
		Persistence: PersistenceSettings{
			DSN:                     "file:trailblaze.db?cache=shared",
			Driver:                  "sqlite",
			PingTimeoutExpression:   "5s",
			OtelIdentifier:          "trailblaze-auth",
			PruneIntervalExpression: "10m",
		},
	}
}

// LoadConfig resolves configuration from defaults, then the YAML file at path
// (skipped when empty or missing), then TRAILBLAZE_* environment variables.
func LoadConfig(path string) (*AppConfig, error) {
	cfg := DefaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(raw, cfg); err != nil {
				return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "failed to parse config file").
					WithMetadata(map[string]any{"path": path})
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read config file")
		}
	}

	cfg.applyEnv(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) applyEnv(getenv func(string) string) {
	str := func(name string, dst *string) {
		if v := strings.TrimSpace(getenv(EnvPrefix + name)); v != "" {
			*dst = v
		}
	}

	str("SIGNING_KEY", &c.Auth.SigningKey)
	str("SIGNING_KEY_ID", &c.Auth.SigningKeyID)
	str("TOKEN_TTL", &c.Auth.TokenTTLExpression)
	str("ISSUER", &c.Auth.Issuer)
	str("ROOT_PASSWORD", &c.Auth.RootPassword)
	str("HTTP_ADDRESS", &c.Server.Address)
	str("DSN", &c.Persistence.DSN)
	str("PRUNE_INTERVAL", &c.Persistence.PruneIntervalExpression)
	str("DB_DRIVER", &c.Persistence.Driver)

	if v := getenv(EnvPrefix + "REMOVAL_REVOKES_TOKENS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Auth.RemovalRevokesTokens = b
		}
	}
	if v := getenv(EnvPrefix + "DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Server.Debug = b
		}
	}
	if v := getenv(EnvPrefix + "DB_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Persistence.Debug = b
		}
	}
}

// Validate checks the settings needed to sign tokens.
func (c *AppConfig) Validate() error {
	if c.Auth.SigningKey == "" && len(c.Auth.SigningKeys) == 0 {
		return ErrInvalidSigningKey.Clone().WithMetadata(map[string]any{
			"env": EnvPrefix + "SIGNING_KEY",
		})
	}

	if _, err := time.ParseDuration(c.Auth.TokenTTLExpression); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid token ttl").
			WithMetadata(map[string]any{"token_ttl": c.Auth.TokenTTLExpression})
	}

	if _, err := time.ParseDuration(c.Persistence.PruneIntervalExpression); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid prune interval").
			WithMetadata(map[string]any{"prune_interval": c.Persistence.PruneIntervalExpression})
	}

	return nil
}

func (c *AppConfig) GetSigningKey() string { return c.Auth.SigningKey }

func (c *AppConfig) GetSigningKeyID() string {
	if c.Auth.SigningKeyID == "" {
		return DefaultKeyID
	}
	return c.Auth.SigningKeyID
}

// GetSigningKeys merges the single key into the keyed set under the active id.
func (c *AppConfig) GetSigningKeys() map[string]string {
	keys := make(map[string]string, len(c.Auth.SigningKeys)+1)
	for kid, key := range c.Auth.SigningKeys {
		keys[kid] = key
	}
	if c.Auth.SigningKey != "" {
		keys[c.GetSigningKeyID()] = c.Auth.SigningKey
	}
	return keys
}

func (c *AppConfig) GetTokenTTL() time.Duration {
	ttl, err := time.ParseDuration(c.Auth.TokenTTLExpression)
	if err != nil || ttl <= 0 {
		return DefaultTokenTTL
	}
	return ttl
}

func (c *AppConfig) GetIssuer() string             { return c.Auth.Issuer }
func (c *AppConfig) GetContextKey() string         { return c.Auth.ContextKey }
func (c *AppConfig) GetTokenLookup() string        { return c.Auth.TokenLookup }
func (c *AppConfig) GetAuthScheme() string         { return c.Auth.AuthScheme }
func (c *AppConfig) GetRemovalRevokesTokens() bool { return c.Auth.RemovalRevokesTokens }
func (c *AppConfig) GetRootPassword() string       { return c.Auth.RootPassword }
func (c *AppConfig) GetHTTPAddress() string        { return c.Server.Address }
func (c *AppConfig) GetDebug() bool                { return c.Server.Debug }
func (c *AppConfig) GetDSN() string                { return c.Persistence.DSN }

// GetPersistence returns the SQL store settings.
func (c *AppConfig) GetPersistence() PersistenceSettings { return c.Persistence }

func (c *AppConfig) GetPruneInterval() time.Duration {
	d, err := time.ParseDuration(c.Persistence.PruneIntervalExpression)
	if err != nil {
		return 0
	}
	return d
}

// KeyProviderFromConfig builds the signing key provider described by cfg.
func KeyProviderFromConfig(cfg Config) (*HMACKeyProvider, error) {
	keys := map[string][]byte{}
	for kid, key := range cfg.GetSigningKeys() {
		if key != "" {
			keys[kid] = []byte(key)
		}
	}
	if len(keys) == 0 {
		return nil, ErrInvalidSigningKey.Clone()
	}
	return NewRotatingKeyProvider(cfg.GetSigningKeyID(), keys), nil
}
