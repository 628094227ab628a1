// Package config loads and validates the voicecast configuration from
// environment variables. Mains load .env via godotenv first; everything
// here reads the process environment through viper.
package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port string

	// BASE_URL must be publicly reachable: the telephony provider fetches
	// the call script and posts webhooks against it.
	BaseURL string

	DB DBConfig

	Provider ProviderConfig
	TTS      TTSConfig
	CDN      CDNConfig

	SigningSecret string
	JWTSecret     string

	// DNDEndpoint enables the do-not-disturb registry check when set;
	// without it every number is dialed as unchecked.
	DNDEndpoint string

	// AMQPURL enables the RabbitMQ event mirror when set.
	AMQPURL string

	// RetryDelay is the default wait before a failed call is dialed again.
	RetryDelay time.Duration

	LogLevel string
}

type DBConfig struct {
	User     string
	Password string
	Host     string
	Port     string
	Name     string
}

type ProviderConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

type TTSConfig struct {
	Endpoint string
}

type CDNConfig struct {
	Endpoint string
	APIKey   string
	Folder   string
}

// Load reads configuration from the environment with defaults and reports
// critical misconfiguration. It never fails hard: the server can come up
// with the mock provider for local development.
func Load() *Config {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_NAME", "voicecast")
	v.SetDefault("TTS_ENDPOINT", "http://localhost:5002/api/tts")
	v.SetDefault("CDN_FOLDER", "broadcast-audio")
	v.SetDefault("RETRY_DELAY_MS", 300000) // 5 minutes
	v.SetDefault("LOG_LEVEL", "info")

	cfg := &Config{
		Port:    v.GetString("PORT"),
		BaseURL: strings.TrimRight(v.GetString("BASE_URL"), "/"),
		DB: DBConfig{
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			Name:     v.GetString("DB_NAME"),
		},
		Provider: ProviderConfig{
			AccountSID: v.GetString("PROVIDER_ACCOUNT_SID"),
			AuthToken:  v.GetString("PROVIDER_AUTH_TOKEN"),
			FromNumber: v.GetString("PROVIDER_FROM_NUMBER"),
		},
		TTS: TTSConfig{
			Endpoint: v.GetString("TTS_ENDPOINT"),
		},
		CDN: CDNConfig{
			Endpoint: strings.TrimRight(v.GetString("CDN_ENDPOINT"), "/"),
			APIKey:   v.GetString("CDN_API_KEY"),
			Folder:   v.GetString("CDN_FOLDER"),
		},
		SigningSecret: v.GetString("SIGNING_SECRET"),
		JWTSecret:     v.GetString("JWT_SECRET"),
		DNDEndpoint:   v.GetString("DND_ENDPOINT"),
		AMQPURL:       v.GetString("AMQP_URL"),
		RetryDelay:    time.Duration(v.GetInt64("RETRY_DELAY_MS")) * time.Millisecond,
		LogLevel:      v.GetString("LOG_LEVEL"),
	}

	warnBaseURL(cfg.BaseURL)
	return cfg
}

// warnBaseURL flags a base URL the provider will not be able to reach.
// The server still starts; calls placed against it will never receive
// script fetches or webhooks.
func warnBaseURL(baseURL string) {
	switch {
	case baseURL == "":
		log.Println("🚨 CRITICAL: BASE_URL is not set; the telephony provider cannot reach this server")
	case strings.Contains(baseURL, "localhost"), strings.Contains(baseURL, "127.0.0.1"):
		log.Printf("🚨 CRITICAL: BASE_URL %q is not publicly reachable; webhooks and script fetches will fail", baseURL)
	}
}
