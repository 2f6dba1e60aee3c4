package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Log      LogConfig
	Postgres PostgresConfig
	DynamoDB DynamoDBConfig
	Redis    RedisConfig
	KV       KVConfig
	Store    StoreConfig
	JWT      JWTConfig
	OTP      OTPConfig
	Signup   SignupConfig
	Reset    ResetConfig
	Password PasswordConfig
	Guard    GuardConfig
	Twilio   TwilioConfig
	Audit    AuditConfig
	Sweeper  SweeperConfig
	Admin    AdminConfig
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	TrustProxy      bool
}

type LogConfig struct {
	Level string
}

type PostgresConfig struct {
	URL      string
	MaxConns int32
}

type DynamoDBConfig struct {
	Endpoint  string
	Region    string
	TableName string
}

type RedisConfig struct {
	Endpoint string
	Password string
	DB       int
}

// KVConfig selects the backend for OTP, pending-signup, reset-session and
// rate-limit state: "memory" for a single instance, "redis" when several
// instances share the same state.
type KVConfig struct {
	Backend   string
	KeyPrefix string
}

// StoreConfig selects the durable backends. "memory" keeps everything in
// process and is meant for local development.
type StoreConfig struct {
	Sessions string // postgres | memory
	Users    string // dynamodb | memory
}

type JWTConfig struct {
	SecretKey   string
	Issuer      string
	TokenExpiry time.Duration
}

type OTPConfig struct {
	Length          int
	Expiry          time.Duration
	MaxAttempts     int
	LockoutWindow   time.Duration
	DeliveryTimeout time.Duration
	HashCost        int
	LogCodes        bool
}

type SignupConfig struct {
	PendingTTL time.Duration
}

type ResetConfig struct {
	SessionTTL time.Duration
}

type PasswordConfig struct {
	MinLength int
	HashCost  int
}

// Limit is a fixed-window budget.
type Limit struct {
	Max    int
	Window time.Duration
}

type GuardConfig struct {
	Login         Limit
	Signup        Limit
	OTPRequest    Limit
	OTPVerify     Limit
	PasswordReset Limit
	Refresh       Limit

	IPFailureThreshold    int
	PhoneFailureThreshold int
	FailureWindow         time.Duration
	BlockDuration         time.Duration
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	// CountryCode is prefixed to the normalized 10-digit phone when sending.
	CountryCode string
}

type AuditConfig struct {
	WriteTimeout time.Duration
}

type SweeperConfig struct {
	Interval time.Duration
}

type AdminConfig struct {
	BootstrapPassword string
}

// Load reads configuration from the environment. A .env file in the working
// directory (or at envFile when given) is applied first; variables already
// present in the environment win.
func Load(envFile ...string) (*Config, error) {
	if len(envFile) > 0 && envFile[0] != "" {
		if err := godotenv.Load(envFile[0]); err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile[0], err)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			TrustProxy:      getEnvAsBool("SERVER_TRUST_PROXY", false),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Postgres: PostgresConfig{
			URL:      getEnv("DATABASE_URL", ""),
			MaxConns: int32(getEnvAsInt("DATABASE_MAX_CONNS", 10)),
		},
		DynamoDB: DynamoDBConfig{
			Endpoint:  getEnv("DYNAMODB_ENDPOINT", ""),
			Region:    getEnv("DYNAMODB_REGION", "us-east-1"),
			TableName: getEnv("DYNAMODB_TABLE_NAME", "PhoneAuthUsers"),
		},
		Redis: RedisConfig{
			Endpoint: getEnv("REDIS_ENDPOINT", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		KV: KVConfig{
			Backend:   getEnv("KV_BACKEND", "memory"),
			KeyPrefix: getEnv("KV_KEY_PREFIX", "phoneauth"),
		},
		Store: StoreConfig{
			Sessions: getEnv("SESSION_STORE", "postgres"),
			Users:    getEnv("USER_STORE", "dynamodb"),
		},
		JWT: JWTConfig{
			SecretKey:   getEnv("JWT_SECRET_KEY", ""),
			Issuer:      getEnv("JWT_ISSUER", "phoneauth"),
			TokenExpiry: getEnvAsDuration("JWT_TOKEN_EXPIRY", 24*time.Hour),
		},
		OTP: OTPConfig{
			Length:          getEnvAsInt("OTP_LENGTH", 6),
			Expiry:          getEnvAsDuration("OTP_EXPIRY", 5*time.Minute),
			MaxAttempts:     getEnvAsInt("OTP_MAX_ATTEMPTS", 5),
			LockoutWindow:   getEnvAsDuration("OTP_LOCKOUT_WINDOW", 15*time.Minute),
			DeliveryTimeout: getEnvAsDuration("OTP_DELIVERY_TIMEOUT", 5*time.Second),
			HashCost:        getEnvAsInt("OTP_HASH_COST", 10),
			LogCodes:        getEnvAsBool("OTP_LOG_CODES", false),
		},
		Signup: SignupConfig{
			PendingTTL: getEnvAsDuration("SIGNUP_PENDING_TTL", 15*time.Minute),
		},
		Reset: ResetConfig{
			SessionTTL: getEnvAsDuration("RESET_SESSION_TTL", 10*time.Minute),
		},
		Password: PasswordConfig{
			MinLength: getEnvAsInt("PASSWORD_MIN_LENGTH", 8),
			HashCost:  getEnvAsInt("PASSWORD_HASH_COST", 12),
		},
		Guard: GuardConfig{
			Login:                 getEnvAsLimit("LIMIT_LOGIN", 10, 15*time.Minute),
			Signup:                getEnvAsLimit("LIMIT_SIGNUP", 3, time.Hour),
			OTPRequest:            getEnvAsLimit("LIMIT_OTP_REQUEST", 5, 15*time.Minute),
			OTPVerify:             getEnvAsLimit("LIMIT_OTP_VERIFY", 10, 15*time.Minute),
			PasswordReset:         getEnvAsLimit("LIMIT_PASSWORD_RESET", 3, time.Hour),
			Refresh:               getEnvAsLimit("LIMIT_REFRESH", 20, 15*time.Minute),
			IPFailureThreshold:    getEnvAsInt("LOCKOUT_IP_FAILURES", 15),
			PhoneFailureThreshold: getEnvAsInt("LOCKOUT_PHONE_FAILURES", 10),
			FailureWindow:         getEnvAsDuration("LOCKOUT_FAILURE_WINDOW", 30*time.Minute),
			BlockDuration:         getEnvAsDuration("LOCKOUT_BLOCK_DURATION", 30*time.Minute),
		},
		Twilio: TwilioConfig{
			AccountSID:  getEnv("TWILIO_ACCOUNT_SID", ""),
			AuthToken:   getEnv("TWILIO_AUTH_TOKEN", ""),
			FromNumber:  getEnv("TWILIO_FROM_NUMBER", ""),
			CountryCode: getEnv("SMS_COUNTRY_CODE", "+91"),
		},
		Audit: AuditConfig{
			WriteTimeout: getEnvAsDuration("AUDIT_WRITE_TIMEOUT", 2*time.Second),
		},
		Sweeper: SweeperConfig{
			Interval: getEnvAsDuration("SWEEP_INTERVAL", time.Minute),
		},
		Admin: AdminConfig{
			BootstrapPassword: getEnv("ADMIN_BOOTSTRAP_PASSWORD", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.JWT.SecretKey == "" {
		return fmt.Errorf("JWT_SECRET_KEY environment variable is required")
	}

	if len(c.JWT.SecretKey) < 32 {
		return fmt.Errorf("JWT_SECRET_KEY must be at least 32 bytes (256 bits)")
	}

	if c.OTP.Length < 4 || c.OTP.Length > 10 {
		return fmt.Errorf("OTP_LENGTH must be between 4 and 10")
	}

	if c.OTP.MaxAttempts < 1 {
		return fmt.Errorf("OTP_MAX_ATTEMPTS must be positive")
	}

	if c.Signup.PendingTTL < c.OTP.Expiry {
		return fmt.Errorf("SIGNUP_PENDING_TTL (%s) must not be shorter than OTP_EXPIRY (%s)", c.Signup.PendingTTL, c.OTP.Expiry)
	}

	switch c.KV.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("KV_BACKEND must be memory or redis, got %q", c.KV.Backend)
	}

	switch c.Store.Sessions {
	case "memory":
	case "postgres":
		if c.Postgres.URL == "" {
			return fmt.Errorf("DATABASE_URL is required when SESSION_STORE=postgres")
		}
	default:
		return fmt.Errorf("SESSION_STORE must be postgres or memory, got %q", c.Store.Sessions)
	}

	switch c.Store.Users {
	case "dynamodb", "memory":
	default:
		return fmt.Errorf("USER_STORE must be dynamodb or memory, got %q", c.Store.Users)
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvAsLimit parses "<max>/<window>", e.g. "10/15m".
func getEnvAsLimit(key string, defaultMax int, defaultWindow time.Duration) Limit {
	limit := Limit{Max: defaultMax, Window: defaultWindow}
	value := os.Getenv(key)
	if value == "" {
		return limit
	}

	maxPart, windowPart, ok := strings.Cut(value, "/")
	if !ok {
		return limit
	}
	if n, err := strconv.Atoi(strings.TrimSpace(maxPart)); err == nil && n > 0 {
		limit.Max = n
	}
	if d, err := time.ParseDuration(strings.TrimSpace(windowPart)); err == nil && d > 0 {
		limit.Window = d
	}
	return limit
}
