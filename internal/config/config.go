package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// UsernamePlaceholder is the substitution point in Discord.MessageFormat
const UsernamePlaceholder = "{username}"

// MaxResolverTimeout caps the profile lookup wait
const MaxResolverTimeout = 10 * time.Second

// Config holds the application configuration
type Config struct {
	Discord  DiscordConfig  `yaml:"discord"`
	Storage  StorageConfig  `yaml:"storage"`
	Resolver ResolverConfig `yaml:"resolver"`
	Login    LoginConfig    `yaml:"login"`
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	NATS     NATSConfig     `yaml:"nats"`
}

// DiscordConfig holds the chat intake settings
type DiscordConfig struct {
	BotToken       string `yaml:"bot_token" env:"DISCORD_BOT_TOKEN"`
	GuildID        string `yaml:"guild_id" env:"DISCORD_GUILD_ID"`
	ChannelID      string `yaml:"channel_id" env:"DISCORD_CHANNEL_ID"`
	MessageFormat  string `yaml:"message_format"`
	SuccessMessage string `yaml:"success_message"`
	RequireRole    bool   `yaml:"require_role" env:"DISCORD_REQUIRE_ROLE"`
	RequiredRoleID string `yaml:"required_role_id" env:"DISCORD_REQUIRED_ROLE_ID"`
}

// StorageConfig selects the membership backend
type StorageConfig struct {
	Type string `yaml:"type" env:"STORAGE_TYPE"` // json, sqlite (alias database), postgres
	Path string `yaml:"path" env:"STORAGE_PATH"`
	DSN  string `yaml:"dsn" env:"STORAGE_DSN"`
}

// ResolverConfig holds profile lookup settings
type ResolverConfig struct {
	Type    string        `yaml:"type" env:"RESOLVER_TYPE"` // mojang or null
	BaseURL string        `yaml:"base_url" env:"RESOLVER_BASE_URL"`
	Timeout time.Duration `yaml:"timeout" env:"RESOLVER_TIMEOUT"`
}

// LoginConfig holds login enforcement settings
type LoginConfig struct {
	Enforce            *bool  `yaml:"enforce"`
	KickMessage        string `yaml:"kick_message"`
	TrustUUIDHeuristic *bool  `yaml:"trust_uuid_heuristic"`
}

// ServerConfig holds admin HTTP server settings
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" env:"LISTEN_ADDR"`
	HTTPPort   int    `yaml:"http_port" env:"HTTP_PORT"`
}

// AuthConfig holds admin authentication settings
type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret" env:"JWT_SECRET"`
	TokenDuration time.Duration `yaml:"token_duration"`
	Admins        []Admin       `yaml:"admins"`
}

// Admin is an operator allowed to use the admin API
type Admin struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
}

// NATSConfig holds adapter bus settings. An empty URL disables the bus.
type NATSConfig struct {
	URL           string `yaml:"url" env:"NATS_URL"`
	SubjectPrefix string `yaml:"subject_prefix" env:"NATS_SUBJECT_PREFIX"`
}

// Storage backend names
const (
	StorageJSON     = "json"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// Resolver names
const (
	ResolverMojang = "mojang"
	ResolverNull   = "null"
)

var (
	ErrPlaceholder = errors.New("message_format must contain exactly one " + UsernamePlaceholder)
	ErrMissingRole = errors.New("require_role is set but required_role_id is empty")
)

// Load reads configuration from a YAML file, then applies WHITELISTER_*
// environment overrides and validates the result
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Config from YAML bytes
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "WHITELISTER_"}); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Discord.MessageFormat == "" {
		c.Discord.MessageFormat = "Please whitelist my Minecraft username: " + UsernamePlaceholder
	}
	if c.Discord.SuccessMessage == "" {
		c.Discord.SuccessMessage = "You have been whitelisted! You can now join the server."
	}

	c.Storage.Type = strings.ToLower(strings.TrimSpace(c.Storage.Type))
	switch c.Storage.Type {
	case "":
		c.Storage.Type = StorageJSON
	case "database":
		c.Storage.Type = StorageSQLite
	}
	if c.Storage.Path == "" {
		switch c.Storage.Type {
		case StorageJSON:
			c.Storage.Path = "whitelist.json"
		case StorageSQLite:
			c.Storage.Path = "/var/lib/whitelister/whitelist.db"
		}
	}

	c.Resolver.Type = strings.ToLower(strings.TrimSpace(c.Resolver.Type))
	if c.Resolver.Type == "" {
		c.Resolver.Type = ResolverMojang
	}
	if c.Resolver.BaseURL == "" {
		c.Resolver.BaseURL = "https://api.mojang.com/users/profiles/minecraft"
	}
	if c.Resolver.Timeout <= 0 || c.Resolver.Timeout > MaxResolverTimeout {
		c.Resolver.Timeout = MaxResolverTimeout
	}

	if c.Login.Enforce == nil {
		c.Login.Enforce = boolPtr(true)
	}
	if c.Login.TrustUUIDHeuristic == nil {
		c.Login.TrustUUIDHeuristic = boolPtr(true)
	}
	if c.Login.KickMessage == "" {
		c.Login.KickMessage = "You are not whitelisted on this server!"
	}

	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = "127.0.0.1"
	}
	if c.Server.HTTPPort == 0 {
		c.Server.HTTPPort = 8085
	}

	if c.Auth.TokenDuration == 0 {
		c.Auth.TokenDuration = 24 * time.Hour
	}

	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "whitelister"
	}
}

// Validate checks settings that have no sensible default
func (c *Config) Validate() error {
	if strings.Count(c.Discord.MessageFormat, UsernamePlaceholder) != 1 {
		return ErrPlaceholder
	}
	if c.Discord.RequireRole && c.Discord.RequiredRoleID == "" {
		return ErrMissingRole
	}

	switch c.Storage.Type {
	case StorageJSON, StorageSQLite:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for %s storage", c.Storage.Type)
		}
	case StoragePostgres:
		if c.Storage.DSN == "" {
			return errors.New("storage.dsn is required for postgres storage")
		}
	default:
		return fmt.Errorf("unknown storage type %q", c.Storage.Type)
	}

	switch c.Resolver.Type {
	case ResolverMojang, ResolverNull:
	default:
		return fmt.Errorf("unknown resolver type %q", c.Resolver.Type)
	}

	for i, a := range c.Auth.Admins {
		if a.Username == "" || a.PasswordHash == "" {
			return fmt.Errorf("auth.admins[%d] needs username and password_hash", i)
		}
	}
	return nil
}

// EnforceLogin reports whether non-members are refused at login
func (c *Config) EnforceLogin() bool {
	return c.Login.Enforce == nil || *c.Login.Enforce
}

// TrustUUIDHeuristic reports whether zero-prefixed UUIDs are read as Bedrock logins
func (c *Config) TrustUUIDHeuristic() bool {
	return c.Login.TrustUUIDHeuristic == nil || *c.Login.TrustUUIDHeuristic
}

// ListenAddress returns host:port for the admin HTTP server
func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.ListenAddr, c.Server.HTTPPort)
}

func boolPtr(b bool) *bool { return &b }
