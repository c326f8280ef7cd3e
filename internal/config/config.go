package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// Routing policy (queues, numbers, campaigns) lives in the YAML file named by POLICY_FILE.
type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Twilio   TwilioConfig
	Provider ProviderConfig
	Webhook  WebhookConfig
	Schedule ScheduleConfig
	MQTT     MQTTConfig
	Log      LogConfig

	PolicyFile string
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
	// Migrate applies the embedded schema at startup.
	Migrate bool
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	// DevLogin exposes POST /v1/auth/login; never enabled in production.
	DevLogin bool
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	// FromNumber is the caller id for agent-initiated calls without an explicit one.
	FromNumber string
	// PublicBaseURL is the externally reachable base for webhook callbacks.
	PublicBaseURL string
}

type ProviderConfig struct {
	// Timeout bounds every provider request.
	Timeout       time.Duration
	RatePerSecond float64
	RingTimeout   time.Duration
}

type WebhookConfig struct {
	IdempotencyTTL time.Duration
	Workers        int
}

type ScheduleConfig struct {
	// Dialer and QueueSweep are cron specs, e.g. "@every 5s".
	Dialer     string
	QueueSweep string
}

type MQTTConfig struct {
	Broker      string
	ClientID    string
	TopicPrefix string
}

type LogConfig struct {
	// File enables rotated file output in addition to stdout.
	File string
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
	c.DB.Migrate, parseErrs = optionalBool(parseErrs, "DB_MIGRATE")

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	if v := strings.TrimSpace(os.Getenv("REDIS_DB")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			parseErrs = append(parseErrs, fmt.Errorf("REDIS_DB must be an integer, got %q", v))
		}
		c.Redis.DB = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate() based on env.
	c.Auth.AccessTokenTTL, parseErrs = optionalDuration(parseErrs, "JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL, parseErrs = optionalDuration(parseErrs, "JWT_REFRESH_TTL")
	c.Auth.DevLogin, parseErrs = optionalBool(parseErrs, "AUTH_DEV_LOGIN")

	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Twilio.FromNumber = strings.TrimSpace(os.Getenv("TWILIO_FROM_NUMBER"))
	c.Twilio.PublicBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL")), "/")

	c.Provider.Timeout, parseErrs = optionalDuration(parseErrs, "PROVIDER_TIMEOUT")
	c.Provider.RingTimeout, parseErrs = optionalDuration(parseErrs, "PROVIDER_RING_TIMEOUT")
	if v := strings.TrimSpace(os.Getenv("PROVIDER_RPS")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			parseErrs = append(parseErrs, fmt.Errorf("PROVIDER_RPS must be a number, got %q", v))
		}
		c.Provider.RatePerSecond = f
	}

	c.Webhook.IdempotencyTTL, parseErrs = optionalDuration(parseErrs, "IDEMPOTENCY_TTL")
	if v := strings.TrimSpace(os.Getenv("WEBHOOK_WORKERS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			parseErrs = append(parseErrs, fmt.Errorf("WEBHOOK_WORKERS must be an integer, got %q", v))
		}
		c.Webhook.Workers = n
	}

	c.Schedule.Dialer = strings.TrimSpace(os.Getenv("DIALER_SCHEDULE"))
	c.Schedule.QueueSweep = strings.TrimSpace(os.Getenv("QUEUE_SWEEP_SCHEDULE"))

	c.MQTT.Broker = strings.TrimSpace(os.Getenv("MQTT_BROKER"))
	c.MQTT.ClientID = strings.TrimSpace(os.Getenv("MQTT_CLIENT_ID"))
	c.MQTT.TopicPrefix = strings.TrimSpace(os.Getenv("MQTT_TOPIC_PREFIX"))

	c.Log.File = strings.TrimSpace(os.Getenv("LOG_FILE"))
	c.PolicyFile = strings.TrimSpace(os.Getenv("POLICY_FILE"))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and fills defaults for optional ones.
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
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
		if c.Twilio.PublicBaseURL == "" {
			errs = append(errs, errors.New("PUBLIC_BASE_URL is required in production"))
		}
		if c.Auth.DevLogin {
			errs = append(errs, errors.New("AUTH_DEV_LOGIN must not be enabled in production"))
		}
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

	if c.Provider.Timeout <= 0 {
		c.Provider.Timeout = 10 * time.Second
	}
	if c.Provider.RingTimeout <= 0 {
		c.Provider.RingTimeout = 30 * time.Second
	}
	if c.Provider.RatePerSecond < 0 {
		errs = append(errs, fmt.Errorf("PROVIDER_RPS must not be negative, got %v", c.Provider.RatePerSecond))
	} else if c.Provider.RatePerSecond == 0 {
		c.Provider.RatePerSecond = 10
	}

	if c.Webhook.IdempotencyTTL <= 0 {
		c.Webhook.IdempotencyTTL = 24 * time.Hour
	}
	if c.Webhook.Workers < 0 {
		errs = append(errs, fmt.Errorf("WEBHOOK_WORKERS must not be negative, got %d", c.Webhook.Workers))
	} else if c.Webhook.Workers == 0 {
		c.Webhook.Workers = 8
	}

	if c.Schedule.Dialer == "" {
		c.Schedule.Dialer = "@every 5s"
	}
	if c.Schedule.QueueSweep == "" {
		c.Schedule.QueueSweep = "@every 1s"
	}

	if c.MQTT.Broker != "" {
		if c.MQTT.ClientID == "" {
			c.MQTT.ClientID = "callcenter"
		}
		if c.MQTT.TopicPrefix == "" {
			c.MQTT.TopicPrefix = "callcenter"
		}
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
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

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// CallbackURL joins a webhook path onto the public base URL.
func (c Config) CallbackURL(path string) string {
	return c.Twilio.PublicBaseURL + path
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

func optionalDuration(errs []error, key string) (time.Duration, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, errs
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be a duration, got %q", key, v))
	}
	return d, errs
}

func optionalBool(errs []error, key string) (bool, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return false, errs
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, append(errs, fmt.Errorf("%s must be true or false, got %q", key, v))
	}
	return b, errs
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
