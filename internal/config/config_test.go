package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validBase(env string) Config {
	return Config{
		App:   AppConfig{Env: env, Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "callcenter"},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret"},
	}
}

func TestLoad_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	assert.Error(t, c.Validate())
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validBase("production")
	c.Auth.JWTIssuer = "iss"
	c.Auth.JWTAudience = "aud"
	c.Twilio.PublicBaseURL = "https://cc.example.com"
	err := c.Validate()
	require.Error(t, err, "production without DB_SSLMODE")
	assert.Contains(t, err.Error(), "DB_SSLMODE")
}

func TestValidate_LocalDefaults(t *testing.T) {
	c := validBase("local")
	require.NoError(t, c.Validate())
	assert.Equal(t, "disable", c.DB.SSLMode)
	assert.Equal(t, 10*time.Second, c.Provider.Timeout)
	assert.Equal(t, 24*time.Hour, c.Webhook.IdempotencyTTL)
	assert.Equal(t, "@every 5s", c.Schedule.Dialer)
	assert.Empty(t, c.MQTT.ClientID, "mqtt defaults only apply with a broker")
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("APP_PORT", "9090")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("DB_USER", "cc")
	t.Setenv("DB_NAME", "cc")
	t.Setenv("REDIS_HOST", "redis")
	t.Setenv("REDIS_PORT", "6379")
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("PROVIDER_TIMEOUT", "3s")
	t.Setenv("PROVIDER_RPS", "2.5")
	t.Setenv("PUBLIC_BASE_URL", "https://cc.example.com/")
	t.Setenv("MQTT_BROKER", "tcp://mqtt:1883")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, c.Provider.Timeout)
	assert.Equal(t, 2.5, c.Provider.RatePerSecond)
	assert.Equal(t, "https://cc.example.com/webhooks/twilio/status", c.CallbackURL("/webhooks/twilio/status"))
	assert.Equal(t, "callcenter", c.MQTT.TopicPrefix)
}

func TestLoad_RejectsBadDuration(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("APP_PORT", "9090")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("DB_USER", "cc")
	t.Setenv("DB_NAME", "cc")
	t.Setenv("REDIS_HOST", "redis")
	t.Setenv("REDIS_PORT", "6379")
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("IDEMPOTENCY_TTL", "a day")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "IDEMPOTENCY_TTL")
}

func TestValidate_DevLoginForbiddenInProduction(t *testing.T) {
	c := validBase("production")
	c.DB.SSLMode = "require"
	c.Auth.JWTIssuer = "iss"
	c.Auth.JWTAudience = "aud"
	c.Twilio.PublicBaseURL = "https://cc.example.com"
	c.Auth.DevLogin = true
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTH_DEV_LOGIN")
}

func TestLoad_RejectsBadBool(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("APP_PORT", "9090")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("DB_USER", "cc")
	t.Setenv("DB_NAME", "cc")
	t.Setenv("REDIS_HOST", "redis")
	t.Setenv("REDIS_PORT", "6379")
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("DB_MIGRATE", "sometimes")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_MIGRATE")
}
