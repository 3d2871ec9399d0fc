package config

import (
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string `mapstructure:"PORT"`
	DatabaseDriver string `mapstructure:"DATABASE_DRIVER"`
	DatabasePath   string `mapstructure:"DATABASE_PATH"`
	DatabaseDSN    string `mapstructure:"DATABASE_DSN"`

	JWTSecret       string `mapstructure:"JWT_SECRET"`
	SSOClientID     string `mapstructure:"SSO_CLIENT_ID"`
	SSOClientSecret string `mapstructure:"SSO_CLIENT_SECRET"`
	SSORedirectURL  string `mapstructure:"SSO_REDIRECT_URL"`
	SSOAuthURL      string `mapstructure:"SSO_AUTH_URL"`
	SSOTokenURL     string `mapstructure:"SSO_TOKEN_URL"`
	SSOUserInfoURL  string `mapstructure:"SSO_USERINFO_URL"`
	FrontendURL     string `mapstructure:"FRONTEND_URL"`
	EnableCORS      bool   `mapstructure:"ENABLE_CORS"`

	AdminEmails    []string `mapstructure:"ADMIN_EMAILS"`
	ReviewerEmails []string `mapstructure:"REVIEWER_EMAILS"`

	StorageDriver    string `mapstructure:"STORAGE_DRIVER"`
	StorageDir       string `mapstructure:"STORAGE_DIR"`
	CloudinaryURL    string `mapstructure:"CLOUDINARY_URL"`
	CloudinaryFolder string `mapstructure:"CLOUDINARY_FOLDER"`
	MaxUploadSize    int64  `mapstructure:"MAX_UPLOAD_SIZE"`

	DiscordBotToken               string   `mapstructure:"DISCORD_BOT_TOKEN"`
	DiscordNotificationsChannelID string   `mapstructure:"DISCORD_NOTIFICATIONS_CHANNEL_ID"`
	KafkaBrokers                  []string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic                    string   `mapstructure:"KAFKA_TOPIC"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
}

func LoadConfig() *Config {
	v := viper.New()

	v.SetDefault("PORT", "8080")
	v.SetDefault("DATABASE_DRIVER", "sqlite")
	v.SetDefault("DATABASE_PATH", "lppm.db")
	v.SetDefault("SSO_REDIRECT_URL", "http://127.0.0.1:8080/auth/sso/callback")
	v.SetDefault("FRONTEND_URL", "http://127.0.0.1:3000")
	v.SetDefault("STORAGE_DRIVER", "local")
	v.SetDefault("STORAGE_DIR", "storage")
	v.SetDefault("CLOUDINARY_FOLDER", "lppm")
	v.SetDefault("MAX_UPLOAD_SIZE", 2<<20)
	v.SetDefault("KAFKA_TOPIC", "kkn.registration")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	for _, key := range []string{
		"DATABASE_DSN",
		"JWT_SECRET",
		"SSO_CLIENT_ID",
		"SSO_CLIENT_SECRET",
		"SSO_AUTH_URL",
		"SSO_TOKEN_URL",
		"SSO_USERINFO_URL",
		"ENABLE_CORS",
		"ADMIN_EMAILS",
		"REVIEWER_EMAILS",
		"CLOUDINARY_URL",
		"DISCORD_BOT_TOKEN",
		"DISCORD_NOTIFICATIONS_CHANNEL_ID",
		"KAFKA_BROKERS",
	} {
		v.BindEnv(key)
	}

	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		log.Fatalf("Unable to decode into struct, %v", err)
	}

	return &config
}

// SetupLogger builds the process logger from LOG_LEVEL and LOG_FORMAT and installs it as the slog default.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.LogFormat) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
