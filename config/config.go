// config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Telegram struct {
		Token string
	}
	Admin struct {
		BotToken string
		ChatID   int64
	}
	DB struct {
		Host         string
		Port         string
		User         string
		Password     string
		DBName       string
		SSLMode      string
		MaxOpenConns int
		MaxIdleConns int
		ConnLifetime time.Duration
	}
	Stripe struct {
		SecretKey string
		PriceID   string
	}
	GPT struct {
		APIKey string
		Model  string
	}
	Server struct {
		Port string
	}
	Notify struct {
		FallbackPath string
	}
	ShutdownTimeout time.Duration
}

// Load loads the configuration
func Load() (*Config, error) {
	_ = godotenv.Load()

	// Create a new viper instance
	v := viper.New()

	// Set the config name (without extension)
	v.SetConfigName("config")

	// Add supported config file types
	v.SetConfigType("yaml")
	v.SetConfigType("json")

	// Add paths where to look for the config file
	v.AddConfigPath(".")                      // Look in current directory
	v.AddConfigPath("./config")               // Look in config subdirectory
	v.AddConfigPath("../config")              // Look in sibling config directory
	v.AddConfigPath("$HOME/.hackreality-bot") // Look in home directory

	// Set default values
	v.SetDefault("ShutdownTimeout", 10*time.Second)
	v.SetDefault("GPT.Model", "gpt-4")
	v.SetDefault("Server.Port", "8080")
	v.SetDefault("DB.MaxOpenConns", 20)
	v.SetDefault("DB.MaxIdleConns", 10)
	v.SetDefault("DB.ConnLifetime", 5*time.Minute)
	v.SetDefault("Notify.FallbackPath", "notifications.log")

	// Enable environment variables to override config values
	v.AutomaticEnv()

	// Try to read config file
	err := v.ReadInConfig()

	// If can't find config file, build the config from environment variables
	if err != nil {
		fmt.Printf("Config file not found: %v\n", err)
		fmt.Println("Using environment variables...")

		cfg := &Config{}

		cfg.Telegram.Token = os.Getenv("TELEGRAM_TOKEN")
		cfg.Admin.BotToken = os.Getenv("ADMIN_BOT_TOKEN")
		if raw := os.Getenv("ADMIN_CHAT_ID"); raw != "" {
			chatID, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid ADMIN_CHAT_ID %q: %w", raw, err)
			}
			cfg.Admin.ChatID = chatID
		}
		cfg.DB.Host = getEnvOr("DB_HOST", "localhost")
		cfg.DB.Port = getEnvOr("DB_PORT", "5432")
		cfg.DB.User = getEnvOr("DB_USER", "postgres")
		cfg.DB.Password = getEnvOr("DB_PASSWORD", "postgres")
		cfg.DB.DBName = getEnvOr("DB_NAME", "hackreality_bot")
		cfg.DB.SSLMode = getEnvOr("DB_SSL_MODE", "disable")
		cfg.DB.MaxOpenConns = 20
		cfg.DB.MaxIdleConns = 10
		cfg.DB.ConnLifetime = 5 * time.Minute
		cfg.Stripe.SecretKey = os.Getenv("STRIPE_SECRET_KEY")
		cfg.Stripe.PriceID = os.Getenv("STRIPE_PRICE_ID")
		cfg.GPT.APIKey = os.Getenv("GPT_API_KEY")
		cfg.GPT.Model = getEnvOr("GPT_MODEL", "gpt-4")
		cfg.Server.Port = getEnvOr("SERVER_PORT", "8080")
		cfg.Notify.FallbackPath = getEnvOr("NOTIFY_FALLBACK_PATH", "notifications.log")
		cfg.ShutdownTimeout = 10 * time.Second

		return cfg, nil
	}

	// Process any ${ENV_VAR} syntax in the config values
	for _, key := range v.AllKeys() {
		value := v.GetString(key)
		if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
			envVar := strings.TrimPrefix(strings.TrimSuffix(value, "}"), "${")
			envValue := os.Getenv(envVar)
			if envValue != "" {
				v.Set(key, envValue)
			}
		}
	}

	// Unmarshal config to struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// Helper function to get environment variable with default value
func getEnvOr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
