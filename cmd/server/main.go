package main

import (
	"ChatWeb/internal/adapters/devauth"
	"ChatWeb/internal/adapters/memory"
	adaptermongo "ChatWeb/internal/adapters/mongo"
	"ChatWeb/internal/adapters/postgres"
	"ChatWeb/internal/adapters/telegram"
	"ChatWeb/internal/adapters/ui"
	"ChatWeb/internal/chat"
	"ChatWeb/internal/core/ports"
	"ChatWeb/internal/session"
	"ChatWeb/internal/shared/config"
	"ChatWeb/internal/shared/logger"
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
)

// challengeMount is the UI element id the verification widget binds to.
const challengeMount = "recaptcha-container"

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize Logger
	isDevMode := cfg.AppEnv == "dev"
	baseLogger := logger.New(isDevMode)
	baseLogger.Info().
		Str("app_env", cfg.AppEnv).
		Str("store_backend", cfg.StoreBackend).
		Msg("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Initialize the identity store
	store, closeStore, err := buildStore(ctx, cfg, &baseLogger)
	if err != nil {
		baseLogger.Fatal().Err(err).Msg("Failed to initialize identity store")
	}
	defer closeStore()

	// 4. Initialize the authenticator and challenge broker
	transport, closeTransport, err := buildTransport(ctx, cfg, &baseLogger)
	if err != nil {
		baseLogger.Fatal().Err(err).Msg("Failed to initialize code transport")
	}
	defer closeTransport()
	authSvc := devauth.NewService(transport, devauth.Options{
		JWTSecret:      []byte(cfg.JWTSecret),
		CodesPerMinute: cfg.OTPCodesPerMinute,
		CodeBurst:      cfg.OTPCodeBurst,
	}, &baseLogger)
	defer authSvc.Close()

	broker := devauth.NewChallengeBroker(&baseLogger)
	notifier := ui.NewLogNotifier(&baseLogger)
	navigator := ui.NewLogNavigator(&baseLogger)

	// 5. The process-wide presence listener, bound before any sign-in
	// can happen and released on shutdown.
	presence := chat.NewPresenceBinder(authSvc, store, &baseLogger)
	presence.Bind()
	defer presence.Release()

	// 6. Verification session
	verification := session.New(broker, authSvc, store, notifier, navigator, challengeMount, &baseLogger)
	if err := verification.RenderChallenge(); err != nil {
		baseLogger.Fatal().Err(err).Msg("Failed to render challenge widget")
	}
	defer verification.Release()

	sendPolicy := chat.SendFailureSilent
	if cfg.SendFailurePolicy == "notify" {
		sendPolicy = chat.SendFailureNotify
	}

	// 7. A sync engine comes alive per authenticated session.
	var engineMu sync.Mutex
	var engine *chat.Engine
	cancelAuth := authSvc.OnAuthStateChange(func(user *ports.AuthenticatedUser) {
		engineMu.Lock()
		defer engineMu.Unlock()
		if user == nil {
			if engine != nil {
				engine.Deselect()
				engine = nil
			}
			return
		}
		engine = chat.NewEngine(user, store, authSvc, notifier, navigator, sendPolicy, presence, &baseLogger)
		if err := engine.LoadRoster(context.Background()); err != nil {
			baseLogger.Error().Err(err).Msg("Initial roster load failed")
		}
	})
	defer cancelAuth()

	baseLogger.Info().Msg("All services initialized successfully")

	<-ctx.Done()
	baseLogger.Info().Msg("Shutting down")

	engineMu.Lock()
	if engine != nil {
		engine.Close()
	}
	engineMu.Unlock()
}

// buildStore selects the identity store adapter from the config.
func buildStore(ctx context.Context, cfg *config.Config, baseLogger *zerolog.Logger) (ports.IdentityStore, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendMongo:
		db, err := adaptermongo.NewDB(ctx, cfg.MongoURI, cfg.MongoDB, baseLogger)
		if err != nil {
			return nil, nil, err
		}
		store := adaptermongo.NewIdentityStore(db, baseLogger)
		return store, func() { _ = db.Close(context.Background()) }, nil

	case config.BackendPostgres:
		db, err := postgres.NewDB(ctx, cfg.DatabaseURL, baseLogger)
		if err != nil {
			return nil, nil, err
		}
		store, err := postgres.NewIdentityStore(ctx, db, baseLogger)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return store, db.Close, nil

	default:
		return memory.NewIdentityStore(baseLogger), func() {}, nil
	}
}

// buildTransport selects the OTP delivery transport: the Telegram
// dispatcher when a bot token is configured, the log otherwise.
func buildTransport(ctx context.Context, cfg *config.Config, baseLogger *zerolog.Logger) (devauth.CodeTransport, func(), error) {
	if cfg.TelegramBotToken == "" {
		return devauth.NewLogTransport(baseLogger), func() {}, nil
	}

	client, err := telegram.NewClient(cfg.TelegramBotToken, baseLogger)
	if err != nil {
		return nil, nil, err
	}
	dispatcher := telegram.NewDispatcher(client, cfg.TelegramDeliveryChatID, cfg.TelegramWorkers, baseLogger)
	dispatcher.Start(ctx)
	return dispatcher, dispatcher.Stop, nil
}
