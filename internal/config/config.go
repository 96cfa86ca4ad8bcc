package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`

	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`

	Server struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"server"`

	// AIGateway is the OpenAI-compatible endpoint used for chat
	// completions and embeddings. Per-tenant keys override the bearer.
	AIGateway struct {
		URL            string        `mapstructure:"url"`
		EmbeddingModel string        `mapstructure:"embedding_model"`
		DefaultModel   string        `mapstructure:"default_model"`
		Timeout        time.Duration `mapstructure:"timeout"`
	} `mapstructure:"ai_gateway"`

	Integrations struct {
		EmailURL   string `mapstructure:"email_url"`
		MailboxURL string `mapstructure:"mailbox_url"`
		SearchURL  string `mapstructure:"search_url"`
	} `mapstructure:"integrations"`

	Engine struct {
		Workers       int           `mapstructure:"workers"`
		PollInterval  time.Duration `mapstructure:"poll_interval"`
		LeaseDuration time.Duration `mapstructure:"lease_duration"`
		MaxAttempts   int           `mapstructure:"max_attempts"`
		RetryBackoff  time.Duration `mapstructure:"retry_backoff"`
		RunTimeout    time.Duration `mapstructure:"run_timeout"`
		ActionTimeout time.Duration `mapstructure:"action_timeout"`
		TickInterval  time.Duration `mapstructure:"tick_interval"`
	} `mapstructure:"engine"`
}

// LoadConfig loads the configuration from a file and the environment.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// A missing file is fine; defaults plus env cover dev setups.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.AIGateway.URL = strings.TrimRight(strings.TrimSpace(config.AIGateway.URL), "/")

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("environment", "dev")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", 5432)
	viper.SetDefault("db.sslmode", "disable")
	viper.SetDefault("ai_gateway.url", "https://api.openai.com/v1")
	viper.SetDefault("ai_gateway.embedding_model", "text-embedding-3-small")
	viper.SetDefault("ai_gateway.default_model", "gpt-4o-mini")
	viper.SetDefault("ai_gateway.timeout", 60*time.Second)
	viper.SetDefault("engine.workers", 4)
	viper.SetDefault("engine.poll_interval", 2*time.Second)
	viper.SetDefault("engine.lease_duration", 2*time.Minute)
	viper.SetDefault("engine.max_attempts", 3)
	viper.SetDefault("engine.retry_backoff", 30*time.Second)
	viper.SetDefault("engine.run_timeout", 5*time.Minute)
	viper.SetDefault("engine.action_timeout", 30*time.Second)
	viper.SetDefault("engine.tick_interval", time.Minute)
}
