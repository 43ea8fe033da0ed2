package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"momentum-core/internal/advisor"
	"momentum-core/internal/position"
	"momentum-core/internal/risk"
	"momentum-core/internal/scanner"
	"momentum-core/internal/strategy"
	"momentum-core/pkg/crypto"
	"momentum-core/pkg/logger"
)

// Config holds every setting of the momentum core. Runtime and secret values
// come from the environment (optionally via .env); tuning comes from the
// strategy YAML file.
type Config struct {
	// Runtime, from the environment.
	Mode             string `yaml:"-" default:"paper" validate:"oneof=paper live"`
	Exchange         string `yaml:"-" default:"paper" validate:"oneof=paper binance"`
	BinanceTestnet   bool   `yaml:"-"`
	BinanceAPIKey    string `yaml:"-" validate:"required_if=Mode live Exchange binance"`
	BinanceAPISecret string `yaml:"-" validate:"required_if=Mode live Exchange binance"`
	StrategyFile     string `yaml:"-" default:"momentum.yaml"`
	ProfilesFile     string `yaml:"-"`
	DBPath           string `yaml:"-" default:"./data/momentum.db" validate:"required"`
	RedisAddr        string `yaml:"-"`
	RedisPassword    string `yaml:"-"`
	RedisDB          int    `yaml:"-"`
	WebhookURL       string `yaml:"-" validate:"omitempty,url"`

	Log logger.Config `yaml:"-"`
	API APIConfig     `yaml:"-"`

	// Tuning, from the strategy file.
	Strategy  strategy.Config         `yaml:",inline"`
	Risk      risk.Config             `yaml:",inline"`
	Scanner   scanner.Config          `yaml:",inline"`
	ScaleOut  position.ScaleOutConfig `yaml:"scale_out"`
	Advisor   AdvisorConfig           `yaml:"advisor"`
	Execution ExecutionConfig         `yaml:"execution"`
}

// APIConfig configures the control API.
type APIConfig struct {
	Enabled              bool          `default:"true"`
	Port                 string        `default:"8080"`
	JWTSecret            string        `default:"dev-secret" validate:"required"`
	TokenTTL             time.Duration `default:"12h"`
	OperatorPasswordHash string
	AllowedOrigins       []string
	RateLimit            float64 `default:"20" validate:"gt=0"`
}

// AdvisorConfig selects the advisor mode and the rule thresholds.
type AdvisorConfig struct {
	Mode       string             `yaml:"mode" default:"annotate" validate:"oneof=off annotate gatekeep"`
	Thresholds advisor.Thresholds `yaml:"thresholds"`
}

// ExecutionConfig bounds exchange calls and the order worker pool, and sets
// how live venue state is followed between scan cycles.
type ExecutionConfig struct {
	ExchangeTimeout   time.Duration `yaml:"exchange_timeout" default:"10s"`
	Workers           int           `yaml:"workers" default:"4" validate:"gte=1,lte=64"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval" default:"1m"`
	BalanceInterval   time.Duration `yaml:"balance_interval" default:"30s"`
	PriceStream       bool          `yaml:"price_stream" default:"true"`
	StreamThrottle    time.Duration `yaml:"stream_throttle" default:"1s"`
}

var validate = validator.New()

// Load reads .env (if present), the environment and the strategy file, then
// applies defaults and validates the result. A missing strategy file is not
// an error; an unreadable or invalid one is.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	cfg.StrategyFile = getEnv("STRATEGY_CONFIG", cfg.StrategyFile)

	if err := cfg.loadFile(cfg.StrategyFile); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	if err := cfg.revealSecrets(os.Getenv); err != nil {
		return nil, err
	}

	cfg.Strategy.Profiles = strategy.MergeProfiles(strategy.DefaultProfiles(), cfg.Strategy.Profiles)
	if cfg.ProfilesFile != "" {
		overrides, err := strategy.LoadProfiles(cfg.ProfilesFile)
		if err != nil {
			return nil, fmt.Errorf("load profiles: %w", err)
		}
		cfg.Strategy.Profiles = strategy.MergeProfiles(cfg.Strategy.Profiles, overrides)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse builds a Config from YAML bytes alone, with defaults applied and no
// environment lookup. It is used by tests and the scan-once command.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse strategy config: %w", err)
	}
	cfg.Strategy.Profiles = strategy.MergeProfiles(strategy.DefaultProfiles(), cfg.Strategy.Profiles)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read strategy config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse strategy config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Mode = strings.ToLower(getEnv("EXECUTION_MODE", c.Mode))
	c.Exchange = strings.ToLower(getEnv("EXCHANGE", c.Exchange))
	c.BinanceTestnet = getEnv("BINANCE_TESTNET", strconv.FormatBool(c.BinanceTestnet)) == "true"
	c.BinanceAPIKey = os.Getenv("BINANCE_API_KEY")
	c.BinanceAPISecret = os.Getenv("BINANCE_API_SECRET")
	c.ProfilesFile = getEnv("PROFILES_FILE", c.ProfilesFile)
	c.DBPath = getEnv("DB_PATH", c.DBPath)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = os.Getenv("REDIS_PASSWORD")
	c.RedisDB = getEnvInt("REDIS_DB", c.RedisDB)
	c.WebhookURL = getEnv("WEBHOOK_URL", c.WebhookURL)

	c.Log.Level = getEnv("LOG_LEVEL", "info")
	c.Log.Format = getEnv("LOG_FORMAT", "console")
	c.Log.Output = getEnv("LOG_OUTPUT", "stdout")

	c.API.Enabled = getEnv("API_ENABLED", strconv.FormatBool(c.API.Enabled)) == "true"
	c.API.Port = getEnv("PORT", c.API.Port)
	c.API.JWTSecret = getEnv("JWT_SECRET", c.API.JWTSecret)
	c.API.OperatorPasswordHash = os.Getenv("OPERATOR_PASSWORD_HASH")
	c.API.RateLimit = getEnvFloat("API_RATE_LIMIT", c.API.RateLimit)
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.API.AllowedOrigins = splitAndTrim(v)
	}

	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Scanner.Symbols = splitAndTrim(v)
	}
	if v := os.Getenv("TIMEFRAME"); v != "" {
		c.Strategy.Timeframe = v
	}
	c.Scanner.Equity = getEnvFloat("EQUITY", c.Scanner.Equity)
}

// revealSecrets decrypts exchange credentials stored as ENC[vN] values.
// The master key is only required when a sealed value is present.
func (c *Config) revealSecrets(getenv func(string) string) error {
	if !crypto.IsSealed(c.BinanceAPIKey) && !crypto.IsSealed(c.BinanceAPISecret) {
		return nil
	}
	ring, err := crypto.LoadKeyring(getenv)
	if err != nil {
		return fmt.Errorf("sealed credentials: %w", err)
	}
	if c.BinanceAPIKey, err = ring.Reveal(c.BinanceAPIKey); err != nil {
		return fmt.Errorf("BINANCE_API_KEY: %w", err)
	}
	if c.BinanceAPISecret, err = ring.Reveal(c.BinanceAPISecret); err != nil {
		return fmt.Errorf("BINANCE_API_SECRET: %w", err)
	}
	return nil
}

// Validate checks ranges and cross-field rules. A live Binance setup without
// credentials is rejected here rather than at the first order.
func (c *Config) Validate() error {
	if len(c.Scanner.Symbols) == 0 {
		c.Scanner.Symbols = []string{"BTCUSDT", "ETHUSDT"}
	}
	for i, s := range c.Scanner.Symbols {
		c.Scanner.Symbols[i] = strategy.NormalizeSymbol(s)
	}
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s%s", fe.Namespace(), fe.Tag(), param(fe)))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Live reports whether real orders are enabled.
func (c *Config) Live() bool { return c.Mode == "live" }

func param(fe validator.FieldError) string {
	if fe.Param() == "" {
		return ""
	}
	return "=" + fe.Param()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
