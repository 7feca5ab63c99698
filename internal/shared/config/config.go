package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Store backends the server can run against.
const (
	BackendMemory   = "memory"
	BackendMongo    = "mongo"
	BackendPostgres = "postgres"
)

// Config holds all configuration for the application.
type Config struct {
	AppEnv string

	// StoreBackend selects the identity store adapter.
	StoreBackend string
	MongoURI     string
	MongoDB      string
	DatabaseURL  string

	// JWTSecret signs dev session tokens.
	JWTSecret string

	// Telegram code delivery; when the token is empty, codes go to the
	// log instead.
	TelegramBotToken       string
	TelegramDeliveryChatID int64
	TelegramWorkers        int

	// OTP issuance rate limit per phone number.
	OTPCodesPerMinute int
	OTPCodeBurst      int

	// SendFailurePolicy is "silent" or "notify".
	SendFailurePolicy string
}

// Load loads configuration from environment variables, with .env as a
// local override.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// A missing .env is fine; OS-set env vars take over.
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	bindings := map[string]string{
		"app.env":              "APP_ENV",
		"store.backend":        "STORE_BACKEND",
		"mongo.uri":            "MONGO_URI",
		"mongo.db":             "MONGO_DB",
		"database.url":         "DATABASE_URL",
		"jwt.secret":           "JWT_SECRET",
		"telegram.token":       "TELEGRAM_BOT_TOKEN",
		"telegram.chat_id":     "TELEGRAM_DELIVERY_CHAT_ID",
		"telegram.workers":     "TELEGRAM_WORKERS",
		"otp.codes_per_minute": "OTP_CODES_PER_MINUTE",
		"otp.code_burst":       "OTP_CODE_BURST",
		"chat.send_failure":    "SEND_FAILURE_POLICY",
	}
	for key, env := range bindings {
		if err := viper.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("could not bind %s: %w", key, err)
		}
	}

	viper.SetDefault("app.env", "dev")
	viper.SetDefault("store.backend", BackendMemory)
	viper.SetDefault("mongo.db", "chatweb")
	viper.SetDefault("telegram.workers", 2)
	viper.SetDefault("otp.codes_per_minute", 3)
	viper.SetDefault("otp.code_burst", 1)
	viper.SetDefault("chat.send_failure", "silent")

	cfg := Config{
		AppEnv:                 viper.GetString("app.env"),
		StoreBackend:           viper.GetString("store.backend"),
		MongoURI:               viper.GetString("mongo.uri"),
		MongoDB:                viper.GetString("mongo.db"),
		DatabaseURL:            viper.GetString("database.url"),
		JWTSecret:              viper.GetString("jwt.secret"),
		TelegramBotToken:       viper.GetString("telegram.token"),
		TelegramDeliveryChatID: viper.GetInt64("telegram.chat_id"),
		TelegramWorkers:        viper.GetInt("telegram.workers"),
		OTPCodesPerMinute:      viper.GetInt("otp.codes_per_minute"),
		OTPCodeBurst:           viper.GetInt("otp.code_burst"),
		SendFailurePolicy:      viper.GetString("chat.send_failure"),
	}

	switch cfg.StoreBackend {
	case BackendMemory:
	case BackendMongo:
		if cfg.MongoURI == "" {
			return nil, errors.New("MONGO_URI is required when STORE_BACKEND=mongo")
		}
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is required when STORE_BACKEND=postgres")
		}
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND: %q", cfg.StoreBackend)
	}

	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is not set in environment or .env file")
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramDeliveryChatID == 0 {
		return nil, errors.New("TELEGRAM_DELIVERY_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set")
	}
	if p := cfg.SendFailurePolicy; p != "silent" && p != "notify" {
		return nil, fmt.Errorf("SEND_FAILURE_POLICY must be silent or notify, got %q", p)
	}

	return &cfg, nil
}
