package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"authgate/internal/auth"
	"authgate/internal/config"
	"authgate/internal/consul"
	"authgate/internal/credentials"
	"authgate/internal/database"
	"authgate/internal/email"
	kafkapkg "authgate/internal/kafka"
	"authgate/internal/logger"
	"authgate/internal/password"
	"authgate/internal/server"
	"authgate/internal/session"
	"authgate/internal/storage"
	"authgate/internal/token"

	_ "github.com/joho/godotenv/autoload"
	"github.com/redis/go-redis/v9"
)

const serviceName = "auth-service"

func main() {
	lgr := logger.New()
	logger.SetDefault(lgr)

	if err := run(lgr); err != nil {
		lgr.Error("Auth Service failed", "error", err)
		os.Exit(1)
	}
}

func run(lgr *slog.Logger) error {
	lgr.Info("Starting Auth Service...")

	if err := config.ValidateEnv([]string{"JWT_SECRET_KEY", "COMPANY_DOMAIN"}); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	lgr.Info("Configuration loaded",
		"port", cfg.Port,
		"host", cfg.Host,
		"domain", cfg.AllowedDomain,
		"credential_store", cfg.CredentialStore,
		"session_store", cfg.SessionStore)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var checks []auth.HealthCheck

	// Credentials
	creds, closeCreds, err := openCredentialStore(ctx, cfg, lgr)
	if err != nil {
		return err
	}
	defer closeCreds()
	checks = append(checks, auth.HealthCheck{Name: "credentials", Check: creds.Ping})

	// Tokens
	issuer, err := token.NewIssuer(token.Config{
		Secret: []byte(cfg.JWTSecret),
		TTL:    cfg.AccessTokenTTL,
		Issuer: cfg.JWTIssuer,
	})
	if err != nil {
		return fmt.Errorf("failed to create token issuer: %w", err)
	}

	// Session handoffs
	store, storeCheck, closeStore, err := openSessionStore(ctx, cfg, lgr)
	if err != nil {
		return err
	}
	defer closeStore()
	if storeCheck != nil {
		checks = append(checks, auth.HealthCheck{Name: "sessions", Check: storeCheck})
	}
	sessionMgr := session.NewManager(store, issuer,
		session.WithTTL(config.HandoffTTL),
		session.WithLogger(lgr))

	// Email delivery
	mailer, closeMailer, err := openMailer(lgr)
	if err != nil {
		return err
	}
	defer closeMailer()

	authService := auth.NewService(auth.Deps{
		Credentials:     creds,
		Hasher:          password.NewBcrypt(cfg.BcryptCost),
		Tokens:          issuer,
		Sessions:        sessionMgr,
		Mailer:          mailer,
		AllowedDomain:   cfg.AllowedDomain,
		DeliveryTimeout: cfg.OTPDeliveryTimeout,
		Logger:          lgr,
	})

	r := server.NewRouter(cfg.CORSAllowedOrigins, lgr)
	auth.NewHandler(authService, lgr, checks...).RegisterRoutes(r)

	go session.NewJanitor(sessionMgr, cfg.SessionCleanupEvery, lgr).Run(ctx)

	deregister, err := registerWithConsul(cfg, lgr)
	if err != nil {
		return err
	}
	defer deregister()

	srv := server.New(cfg.Server, cfg.Port, r)
	if err := server.Run(ctx, srv, lgr); err != nil {
		return err
	}

	lgr.Info("Auth Service stopped")
	return nil
}

func openCredentialStore(ctx context.Context, cfg *config.Config, lgr *slog.Logger) (credentials.Store, func(), error) {
	if cfg.CredentialStore != config.StorePostgres {
		lgr.Warn("Using in-memory credential store, accounts are lost on restart")
		return credentials.NewMemoryStore(), func() {}, nil
	}

	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := database.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, nil, err
	}
	lgr.Info("Connected to database")

	return credentials.NewPostgresStore(db), func() {
		if err := db.Close(); err != nil {
			lgr.Error("Failed to close database", "error", err)
		}
	}, nil
}

func openSessionStore(ctx context.Context, cfg *config.Config, lgr *slog.Logger) (session.Store, func(context.Context) error, func(), error) {
	noop := func() {}

	switch cfg.SessionStore {
	case config.StoreMemory:
		lgr.Warn("Using in-memory session store, handoffs are not shared between instances")
		return session.NewMemoryStore(), nil, noop, nil

	case config.StoreFile:
		store, err := session.NewFileStore(cfg.SessionDir)
		if err != nil {
			return nil, nil, nil, err
		}
		lgr.Info("Using file session store", "dir", cfg.SessionDir)
		return store, nil, noop, nil

	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		lgr.Info("Connected to Redis", "addr", cfg.Redis.Addr)
		ping := func(ctx context.Context) error { return client.Ping(ctx).Err() }
		return session.NewRedisStore(client, session.DefaultRedisPrefix), ping, func() { client.Close() }, nil

	case config.StoreS3:
		objects, err := storage.New(ctx, storage.ConfigFromEnv())
		if err != nil {
			return nil, nil, nil, err
		}
		lgr.Info("Using S3 session store")
		return session.NewS3Store(objects, session.DefaultS3Prefix), objects.Health, noop, nil
	}

	return nil, nil, nil, fmt.Errorf("unsupported SESSION_STORE %q", cfg.SessionStore)
}

// openMailer returns the OTP sender. In kafka mode the auth service only
// enqueues events; the email worker delivers them.
func openMailer(lgr *slog.Logger) (email.Sender, func(), error) {
	emailConfig, err := email.NewConfig()
	if err != nil {
		return nil, nil, err
	}
	if err := emailConfig.Validate(); err != nil {
		return nil, nil, err
	}
	lgr.Info("Email sender initialized", "mode", emailConfig.Mode)

	if emailConfig.Mode != email.ModeKafka {
		return email.NewSender(emailConfig, lgr), func() {}, nil
	}

	kafkaConfig, err := kafkapkg.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	producer, err := kafkapkg.NewProducer(kafkaConfig, lgr)
	if err != nil {
		return nil, nil, err
	}
	lgr.Info("Kafka producer initialized", "brokers", kafkaConfig.Brokers, "topic", kafkaConfig.EmailEventsTopic)

	return email.NewKafkaSender(producer, kafkaConfig.EmailEventsTopic, lgr), producer.Close, nil
}

func registerWithConsul(cfg *config.Config, lgr *slog.Logger) (func(), error) {
	if cfg.ConsulAddr == "" {
		lgr.Info("Consul disabled")
		return func() {}, nil
	}

	port, err := strconv.Atoi(cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("invalid port %q: %w", cfg.Port, err)
	}

	consulClient, err := consul.NewClient(cfg.ConsulAddr, cfg.ConsulToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Consul client: %w", err)
	}

	serviceID := consul.ServiceID(serviceName, cfg.Host, port)

	// Clear a stale registration left by a crashed instance
	_ = consulClient.Deregister(serviceID)

	err = consulClient.Register(&consul.ServiceConfig{
		ID:      serviceID,
		Name:    serviceName,
		Address: cfg.Host,
		Port:    port,
		Tags:    []string{"auth", "otp", "session-handoff"},
		Check:   consul.HTTPCheck(cfg.Host, port, "/health"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register with Consul: %w", err)
	}
	lgr.Info("Registered with Consul", "service_id", serviceID)

	return func() {
		if err := consulClient.Deregister(serviceID); err != nil {
			lgr.Error("Failed to deregister from Consul", "error", err)
			return
		}
		lgr.Info("Deregistered from Consul")
	}, nil
}
