package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"authgate/internal/config"
	"authgate/internal/consul"
	"authgate/internal/email"
	kafkapkg "authgate/internal/kafka"
	"authgate/internal/logger"
	"authgate/internal/server"

	_ "github.com/joho/godotenv/autoload"
	"github.com/redis/go-redis/v9"
)

const serviceName = "email-service"

func main() {
	lgr := logger.New()
	logger.SetDefault(lgr)

	if err := run(lgr); err != nil {
		lgr.Error("Email Service failed", "error", err)
		os.Exit(1)
	}
}

func run(lgr *slog.Logger) error {
	lgr.Info("Starting Email Service...")

	port := config.GetEnvOrDefault("EMAIL_SERVICE_PORT", "8085")
	host := config.GetEnvOrDefault("SERVICE_HOST", "localhost")
	consulAddr := config.GetEnvOrDefault("CONSUL_HTTP_ADDR", "")
	consulToken := config.GetEnvOrDefault("CONSUL_HTTP_TOKEN", "")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	kafkaConfig, err := kafkapkg.LoadConfig()
	if err != nil {
		return err
	}

	lgr.Info("Configuration loaded",
		"port", port,
		"host", host,
		"redis", cfg.Redis.Addr,
		"kafka", kafkaConfig.Brokers,
		"topic", kafkaConfig.EmailEventsTopic)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis backs the idempotency store
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	lgr.Info("Connected to Redis")

	idempotencyStore := email.NewIdempotencyStore(redisClient, lgr)

	emailConfig, err := email.NewConfig()
	if err != nil {
		return err
	}
	if emailConfig.Mode == email.ModeKafka {
		return fmt.Errorf("EMAIL_MODE=%s is for producers; the worker delivers with %s or %s",
			email.ModeKafka, email.ModeLog, email.ModeSMTP)
	}
	if err := emailConfig.Validate(); err != nil {
		return err
	}
	emailSender := email.NewSender(emailConfig, lgr)
	lgr.Info("Email sender initialized", "mode", emailConfig.Mode)

	dlqProducer, err := kafkapkg.NewProducer(kafkaConfig, lgr)
	if err != nil {
		return err
	}
	defer dlqProducer.Close()

	consumer, err := email.NewConsumer(kafkaConfig.ConsumerConfigMap(), &email.ConsumerConfig{
		Topic:         kafkaConfig.EmailEventsTopic,
		DLQTopic:      kafkaConfig.EmailDLQTopic,
		ConsumerGroup: kafkaConfig.ConsumerGroup,
		MaxRetries:    3,
	}, emailSender, idempotencyStore, dlqProducer, lgr)
	if err != nil {
		return err
	}
	defer consumer.Close()

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		lgr.Info("Starting Kafka consumer...")
		if err := consumer.Start(ctx); err != nil {
			lgr.Error("Consumer error", "error", err)
			stop()
		}
	}()

	r := server.NewRouter(nil, lgr)
	email.NewHandler(idempotencyStore, lgr).RegisterRoutes(r)

	if consulAddr != "" {
		deregister, err := register(consulAddr, consulToken, host, port, lgr)
		if err != nil {
			return err
		}
		defer deregister()
	}

	srv := server.New(cfg.Server, port, r)
	if err := server.Run(ctx, srv, lgr); err != nil {
		return err
	}

	stop()
	<-consumerDone

	lgr.Info("Email Service stopped")
	return nil
}

func register(addr, token, host, portStr string, lgr *slog.Logger) (func(), error) {
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port %q: %w", portStr, err)
	}

	consulClient, err := consul.NewClient(addr, token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Consul client: %w", err)
	}

	serviceID := consul.ServiceID(serviceName, host, port)
	_ = consulClient.Deregister(serviceID)

	err = consulClient.Register(&consul.ServiceConfig{
		ID:      serviceID,
		Name:    serviceName,
		Address: host,
		Port:    port,
		Tags:    []string{"email", "notifications", "kafka-consumer"},
		Check:   consul.HTTPCheck(host, port, "/health"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register with Consul: %w", err)
	}
	lgr.Info("Registered with Consul", "service_id", serviceID)

	return func() {
		if err := consulClient.Deregister(serviceID); err != nil {
			lgr.Error("Failed to deregister from Consul", "error", err)
		}
	}, nil
}
