package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/qcom/phoneauth/internal/config"
	"github.com/qcom/phoneauth/internal/delivery"
	"github.com/qcom/phoneauth/internal/kv"
	"github.com/qcom/phoneauth/internal/repository"
	"github.com/qcom/phoneauth/internal/repository/memory"
	"github.com/qcom/phoneauth/internal/repository/postgres"
	"github.com/qcom/phoneauth/internal/service"
)

// app holds the wired services. close releases the connections opened by
// buildApp.
type app struct {
	auth     *service.AuthService
	sessions *service.SessionService
	sweeper  *service.Sweeper
	close    func()
}

func buildApp(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*app, error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	store, sweepable, closeKV, err := initKV(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	closers = append(closers, closeKV)

	var durable repository.Store
	switch cfg.Store.Sessions {
	case "postgres":
		pool, err := postgres.Connect(ctx, cfg.Postgres.URL, cfg.Postgres.MaxConns)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		closers = append(closers, pool.Close)
		durable = postgres.NewStore(pool)
		logger.Info("PostgreSQL session store initialized")
	default:
		durable = memory.NewStore()
		logger.Warn("Using in-memory session store")
	}

	var users repository.UserRepository
	switch cfg.Store.Users {
	case "dynamodb":
		client, err := initDynamoDB(cfg, logger)
		if err != nil {
			closeAll()
			return nil, err
		}
		users = repository.NewDynamoUserRepository(client, cfg.DynamoDB.TableName, logger)
	default:
		users = memory.NewUserRepository()
		logger.Warn("Using in-memory user store")
	}

	tokens, err := service.NewTokenService(&cfg.JWT, logger)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("failed to initialize token service: %w", err)
	}

	blacklist := service.NewBlacklist(durable.Blacklist(), logger)
	sessions := service.NewSessionService(durable, tokens, blacklist, logger)

	auth := service.NewAuthService(service.AuthDeps{
		Users:    users,
		OTP:      service.NewOTPService(store, initGateway(cfg, logger), &cfg.OTP, logger),
		Signups:  service.NewSignupStore(store, cfg.Signup.PendingTTL, logger),
		Resets:   service.NewResetService(store, cfg.Reset.SessionTTL, logger),
		Sessions: sessions,
		Guard:    service.NewGuard(store, durable.Audit(), &cfg.Guard, logger),
		Audit:    service.NewAuditLog(durable.Audit(), cfg.Audit.WriteTimeout, logger),
		Notifier: service.NewLogNotifier(logger),
		Hasher:   service.NewBcryptHasher(cfg.Password.HashCost),
		Password: &cfg.Password,
		Logger:   logger,
	})

	return &app{
		auth:     auth,
		sessions: sessions,
		sweeper:  service.NewSweeper(sweepable, blacklist, sessions, cfg.Sweeper.Interval, logger),
		close:    closeAll,
	}, nil
}

// initKV returns the transient store and, for the in-memory store, the
// handle the sweeper uses to drop expired keys.
func initKV(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (kv.Store, service.Sweepable, func(), error) {
	if cfg.KV.Backend != "redis" {
		logger.Info("Using in-memory transient store")
		store := kv.NewMemoryStore()
		return store, store, func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Endpoint,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.WithField("endpoint", cfg.Redis.Endpoint).Info("Redis transient store initialized")
	return kv.NewRedisStore(client, cfg.KV.KeyPrefix, logger), nil, func() { _ = client.Close() }, nil
}

func initGateway(cfg *config.Config, logger *logrus.Logger) delivery.Gateway {
	if cfg.Twilio.AccountSID == "" {
		logger.Warn("TWILIO_ACCOUNT_SID not set, codes are written to the log")
		return delivery.NewLogGateway(logger)
	}
	return delivery.NewTwilioGateway(
		cfg.Twilio.AccountSID,
		cfg.Twilio.AuthToken,
		cfg.Twilio.FromNumber,
		cfg.Twilio.CountryCode,
		cfg.OTP.Expiry,
		cfg.OTP.DeliveryTimeout,
		logger,
	)
}

func initDynamoDB(cfg *config.Config, logger *logrus.Logger) (*dynamodb.Client, error) {
	var awsCfg aws.Config
	var err error

	if cfg.DynamoDB.Endpoint != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.TODO(),
			awsconfig.WithRegion(cfg.DynamoDB.Region),
			awsconfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
				func(service, region string, options ...interface{}) (aws.Endpoint, error) {
					return aws.Endpoint{
						URL:           cfg.DynamoDB.Endpoint,
						SigningRegion: cfg.DynamoDB.Region,
					}, nil
				})),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.TODO(), awsconfig.WithRegion(cfg.DynamoDB.Region))
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg)
	logger.Info("DynamoDB client initialized")
	return client, nil
}
