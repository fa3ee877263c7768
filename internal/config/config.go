// Package config defines the configuration contract and loads it from the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// Canonical environment variable keys.
	KeyTelegramToken   = "TELEGRAM_TOKEN"
	KeyBotOwner        = "BOT_OWNER"
	KeyMongoURI        = "MONGO_URI"
	KeyMongoDB         = "MONGO_DB"
	KeyRedisURL        = "REDIS_URL"
	KeyAppEnv          = "APP_ENV"
	KeyLogLevel        = "LOG_LEVEL"
	KeyHTTPPort        = "HTTP_PORT"
	KeyEmiasAPIURL     = "EMIAS_API_URL"
	KeyAPITimeout      = "API_TIMEOUT"
	KeyPollInterval    = "POLL_INTERVAL"
	KeyPollWorkers     = "POLL_WORKERS"
	KeyPollUserTimeout = "POLL_USER_TIMEOUT"
	KeySessionTTL      = "SESSION_TTL"

	// Allowed environment values.
	EnvDevelopment = "development"
	EnvProduction  = "production"

	// Defaults for optional settings.
	DefaultAppEnv          = EnvProduction
	DefaultLogLevel        = "info"
	DefaultHTTPPort        = 8080
	DefaultEmiasAPIURL     = "https://emias.info/api/emc/appointment-eip/v1/"
	DefaultAPITimeout      = 15 * time.Second
	DefaultPollInterval    = 30 * time.Minute
	DefaultPollWorkers     = 4
	DefaultPollUserTimeout = 2 * time.Minute
	DefaultSessionTTL      = 24 * time.Hour

	// Recommended database names by environment.
	DefaultMongoDBProd = "emias_bot"
	DefaultMongoDBDev  = "emias_bot_dev"
)

// VarSpec describes a single configuration key.
type VarSpec struct {
	Key         string // environment variable name
	Example     string // human-friendly sample value
	Required    bool   // whether the bot must refuse to start without this value
	Default     string // default when unset (empty when required)
	Description string // what the variable controls
	Notes       string // extra guidance or policies
}

// Contract enumerates the authoritative configuration keys for the bot.
// .env loading is only permitted when APP_ENV=development; production must rely
// on environment variables supplied by the runtime.
var Contract = []VarSpec{
	{
		Key:         KeyTelegramToken,
		Example:     "123:ABC",
		Required:    true,
		Description: "Telegram Bot Token issued by BotFather.",
	},
	{
		Key:         KeyMongoURI,
		Example:     "mongodb://localhost:27017",
		Required:    true,
		Description: "MongoDB connection string for the records collection.",
	},
	{
		Key:         KeyMongoDB,
		Example:     DefaultMongoDBProd + " / " + DefaultMongoDBDev,
		Default:     DefaultMongoDBProd,
		Description: "MongoDB database name.",
		Notes:       "Defaults: production=" + DefaultMongoDBProd + ", development=" + DefaultMongoDBDev + ".",
	},
	{
		Key:         KeyRedisURL,
		Example:     "redis://localhost:6379/0",
		Description: "Redis URL for navigation sessions.",
		Notes:       "When unset sessions are kept in process memory.",
	},
	{
		Key:         KeyBotOwner,
		Example:     "123456789",
		Description: "Telegram user_id allowed to run /stats.",
	},
	{
		Key:         KeyAppEnv,
		Example:     EnvDevelopment + " / " + EnvProduction,
		Default:     DefaultAppEnv,
		Description: "Runtime environment; controls log format and dotenv usage.",
		Notes:       "Load .env files only when APP_ENV=" + EnvDevelopment + ".",
	},
	{
		Key:         KeyLogLevel,
		Example:     DefaultLogLevel,
		Default:     DefaultLogLevel,
		Description: "Overrides default log level.",
	},
	{
		Key:         KeyHTTPPort,
		Example:     strconv.Itoa(DefaultHTTPPort),
		Default:     strconv.Itoa(DefaultHTTPPort),
		Description: "HTTP health/metrics port.",
	},
	{
		Key:         KeyEmiasAPIURL,
		Example:     DefaultEmiasAPIURL,
		Default:     DefaultEmiasAPIURL,
		Description: "Base URL of the EMIAS appointment JSON-RPC endpoint.",
	},
	{
		Key:         KeyAPITimeout,
		Example:     DefaultAPITimeout.String(),
		Default:     DefaultAPITimeout.String(),
		Description: "Timeout for a single EMIAS API call.",
	},
	{
		Key:         KeyPollInterval,
		Example:     DefaultPollInterval.String(),
		Default:     DefaultPollInterval.String(),
		Description: "Interval between scheduled referral digests.",
	},
	{
		Key:         KeyPollWorkers,
		Example:     strconv.Itoa(DefaultPollWorkers),
		Default:     strconv.Itoa(DefaultPollWorkers),
		Description: "Number of records processed concurrently per tick.",
	},
	{
		Key:         KeyPollUserTimeout,
		Example:     DefaultPollUserTimeout.String(),
		Default:     DefaultPollUserTimeout.String(),
		Description: "Upper bound for building and delivering one digest.",
	},
	{
		Key:         KeySessionTTL,
		Example:     DefaultSessionTTL.String(),
		Default:     DefaultSessionTTL.String(),
		Description: "Expiry of stored navigation sessions in Redis.",
	},
}

// Config mirrors resolved configuration values after loading.
type Config struct {
	TelegramToken   string
	BotOwnerID      int64
	MongoURI        string
	MongoDB         string
	RedisURL        string
	AppEnv          string
	LogLevel        string
	HTTPPort        int
	EmiasAPIURL     string
	APITimeout      time.Duration
	PollInterval    time.Duration
	PollWorkers     int
	PollUserTimeout time.Duration
	SessionTTL      time.Duration
}

// Load resolves configuration from the environment (with optional dotenv in development).
func Load() (Config, error) {
	appEnv, err := resolveAppEnv()
	if err != nil {
		return Config{}, err
	}

	if err := loadDotEnv(appEnv); err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppEnv:          firstNonEmpty(normalizeEnv(os.Getenv(KeyAppEnv)), appEnv),
		TelegramToken:   strings.TrimSpace(os.Getenv(KeyTelegramToken)),
		MongoURI:        strings.TrimSpace(os.Getenv(KeyMongoURI)),
		MongoDB:         strings.TrimSpace(os.Getenv(KeyMongoDB)),
		RedisURL:        strings.TrimSpace(os.Getenv(KeyRedisURL)),
		LogLevel:        firstNonEmpty(strings.TrimSpace(os.Getenv(KeyLogLevel)), DefaultLogLevel),
		HTTPPort:        DefaultHTTPPort,
		EmiasAPIURL:     firstNonEmpty(os.Getenv(KeyEmiasAPIURL), DefaultEmiasAPIURL),
		APITimeout:      DefaultAPITimeout,
		PollInterval:    DefaultPollInterval,
		PollWorkers:     DefaultPollWorkers,
		PollUserTimeout: DefaultPollUserTimeout,
		SessionTTL:      DefaultSessionTTL,
	}

	if err := validateAppEnv(cfg.AppEnv); err != nil {
		return Config{}, err
	}

	missing := make([]string, 0)

	if cfg.TelegramToken == "" {
		missing = append(missing, KeyTelegramToken)
	}
	if cfg.MongoURI == "" {
		missing = append(missing, KeyMongoURI)
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variable(s): %s", strings.Join(missing, ", "))
	}

	if !strings.HasPrefix(cfg.MongoURI, "mongodb://") && !strings.HasPrefix(cfg.MongoURI, "mongodb+srv://") {
		return Config{}, fmt.Errorf("invalid %s: must start with mongodb:// or mongodb+srv://", KeyMongoURI)
	}

	if cfg.MongoDB == "" {
		cfg.MongoDB = DefaultMongoDBProd
		if cfg.IsDevelopment() {
			cfg.MongoDB = DefaultMongoDBDev
		}
	}

	if cfg.RedisURL != "" {
		if _, parseErr := url.Parse(cfg.RedisURL); parseErr != nil || !strings.HasPrefix(cfg.RedisURL, "redis") {
			return Config{}, fmt.Errorf("invalid %s: must be a redis:// or rediss:// URL", KeyRedisURL)
		}
	}

	if ownerRaw := strings.TrimSpace(os.Getenv(KeyBotOwner)); ownerRaw != "" {
		ownerID, parseErr := strconv.ParseInt(ownerRaw, 10, 64)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyBotOwner, parseErr)
		}
		cfg.BotOwnerID = ownerID
	}

	if cfg.HTTPPort, err = positiveInt(KeyHTTPPort, cfg.HTTPPort); err != nil {
		return Config{}, err
	}
	if cfg.PollWorkers, err = positiveInt(KeyPollWorkers, cfg.PollWorkers); err != nil {
		return Config{}, err
	}
	if cfg.APITimeout, err = positiveDuration(KeyAPITimeout, cfg.APITimeout); err != nil {
		return Config{}, err
	}
	if cfg.PollInterval, err = positiveDuration(KeyPollInterval, cfg.PollInterval); err != nil {
		return Config{}, err
	}
	if cfg.PollUserTimeout, err = positiveDuration(KeyPollUserTimeout, cfg.PollUserTimeout); err != nil {
		return Config{}, err
	}
	if cfg.SessionTTL, err = positiveDuration(KeySessionTTL, cfg.SessionTTL); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// IsDevelopment reports if APP_ENV is development.
func (c Config) IsDevelopment() bool {
	return c.AppEnv == EnvDevelopment
}

// FormatRedacted renders the configuration with secrets masked, suitable for
// printing on -config-only runs.
func FormatRedacted(c Config) string {
	lines := []string{
		"app_env: " + c.AppEnv,
		"log_level: " + c.LogLevel,
		"telegram_token: " + redactToken(c.TelegramToken),
		"mongo_uri: " + redactURL(c.MongoURI),
		"mongo_db: " + c.MongoDB,
		"redis_url: " + firstNonEmpty(redactURL(c.RedisURL), "(memory sessions)"),
		"bot_owner: " + strconv.FormatInt(c.BotOwnerID, 10),
		"http_port: " + strconv.Itoa(c.HTTPPort),
		"emias_api_url: " + c.EmiasAPIURL,
		"api_timeout: " + c.APITimeout.String(),
		"poll_interval: " + c.PollInterval.String(),
		"poll_workers: " + strconv.Itoa(c.PollWorkers),
		"poll_user_timeout: " + c.PollUserTimeout.String(),
		"session_ttl: " + c.SessionTTL.String(),
	}

	return strings.Join(lines, "\n")
}

func redactToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 4 {
		return "...redacted"
	}
	return token[:4] + "...redacted"
}

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "(unparseable)"
	}
	parsed.User = nil

	return parsed.String()
}

func positiveInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", key)
	}

	return value, nil
}

func positiveDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}

	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", key)
	}

	return value, nil
}

func resolveAppEnv() (string, error) {
	if explicit := normalizeEnv(os.Getenv(KeyAppEnv)); explicit != "" {
		return explicit, nil
	}

	dotEnvValues, err := godotenv.Read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultAppEnv, nil
		}
		return "", fmt.Errorf("read .env: %w", err)
	}

	if envFromFile := normalizeEnv(dotEnvValues[KeyAppEnv]); envFromFile != "" {
		return envFromFile, nil
	}

	return DefaultAppEnv, nil
}

func loadDotEnv(appEnv string) error {
	if appEnv != EnvDevelopment {
		return nil
	}

	if err := godotenv.Load(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}

	return nil
}

func validateAppEnv(appEnv string) error {
	if appEnv == EnvDevelopment || appEnv == EnvProduction {
		return nil
	}

	return fmt.Errorf("invalid %s: must be %q or %q", KeyAppEnv, EnvDevelopment, EnvProduction)
}

func normalizeEnv(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if strings.TrimSpace(val) != "" {
			return strings.TrimSpace(val)
		}
	}
	return ""
}
