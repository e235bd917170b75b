package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App     AppConfig
	DB      DBConfig
	Redis   RedisConfig
	Auth    AuthConfig
	OpenAI  OpenAIConfig
	Cronofy CronofyConfig
	Relay   RelayConfig
}

type AppConfig struct {
	Env  string
	Port int

	// PublicHost is the externally reachable host for this process,
	// used when rendering the Media Streams WebSocket URL in TwiML.
	// No scheme, e.g. "relay.example.com".
	PublicHost string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type OpenAIConfig struct {
	APIKey string

	// RealtimeModel selects the realtime voice model for all sessions.
	RealtimeModel string

	// DefaultVoice is used when a merchant has not picked a voice.
	DefaultVoice string
}

type CronofyConfig struct {
	ClientID     string
	ClientSecret string
}

type RelayConfig struct {
	// MaxConcurrentCalls caps live calls per merchant (enforced via Redis).
	MaxConcurrentCalls int

	// TokenEncryptionKey is the decoded 32-byte key for encrypting
	// calendar credentials at rest. Env value is hex-encoded.
	TokenEncryptionKey []byte
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}
	c.App.PublicHost = strings.TrimSpace(os.Getenv("PUBLIC_HOST"))

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate().
	c.Auth.AccessTokenTTL = optDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = optDuration("JWT_REFRESH_TTL")

	c.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	c.OpenAI.RealtimeModel = strings.TrimSpace(os.Getenv("OPENAI_REALTIME_MODEL"))
	c.OpenAI.DefaultVoice = strings.TrimSpace(os.Getenv("OPENAI_DEFAULT_VOICE"))

	c.Cronofy.ClientID = strings.TrimSpace(os.Getenv("CRONOFY_CLIENT_ID"))
	c.Cronofy.ClientSecret = os.Getenv("CRONOFY_CLIENT_SECRET")

	if v := strings.TrimSpace(os.Getenv("MAX_CONCURRENT_CALLS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			parseErrs = append(parseErrs, fmt.Errorf("MAX_CONCURRENT_CALLS must be an integer, got %q", v))
		}
		c.Relay.MaxConcurrentCalls = n
	}
	if v := strings.TrimSpace(os.Getenv("TOKEN_ENCRYPTION_KEY")); v != "" {
		key, err := hex.DecodeString(v)
		if err != nil {
			parseErrs = append(parseErrs, errors.New("TOKEN_ENCRYPTION_KEY must be hex-encoded"))
		}
		c.Relay.TokenEncryptionKey = key
	}

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if c.App.PublicHost == "" {
		errs = append(errs, errors.New("PUBLIC_HOST is required (used in TwiML stream URLs)"))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.OpenAI.APIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is required"))
	}
	if c.OpenAI.RealtimeModel == "" {
		c.OpenAI.RealtimeModel = "gpt-4o-realtime-preview-2024-12-17"
	}
	if c.OpenAI.DefaultVoice == "" {
		c.OpenAI.DefaultVoice = "alloy"
	}

	// Cronofy is optional: merchants without a connected calendar fall back
	// to canned availability. Partial credentials are a config mistake.
	if (c.Cronofy.ClientID == "") != (c.Cronofy.ClientSecret == "") {
		errs = append(errs, errors.New("CRONOFY_CLIENT_ID and CRONOFY_CLIENT_SECRET must be set together"))
	}

	if c.Relay.MaxConcurrentCalls <= 0 {
		c.Relay.MaxConcurrentCalls = 5
	}
	if len(c.Relay.TokenEncryptionKey) == 0 {
		errs = append(errs, errors.New("TOKEN_ENCRYPTION_KEY is required"))
	} else if len(c.Relay.TokenEncryptionKey) != 32 {
		errs = append(errs, fmt.Errorf("TOKEN_ENCRYPTION_KEY must decode to 32 bytes, got %d", len(c.Relay.TokenEncryptionKey)))
	}

	return joinErrors(errs)
}

func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c *Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// MediaStreamURL renders the wss:// URL Twilio should connect its
// Media Stream to for the given merchant.
func (c *Config) MediaStreamURL(merchantID string) string {
	return fmt.Sprintf("wss://%s/media-stream/%s", c.App.PublicHost, merchantID)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
