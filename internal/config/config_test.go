package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", testSecret)
	t.Setenv("DATABASE_URL", "postgres://localhost/phoneauth")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 6, cfg.OTP.Length)
	assert.Equal(t, 5*time.Minute, cfg.OTP.Expiry)
	assert.Equal(t, 5, cfg.OTP.MaxAttempts)
	assert.Equal(t, 15*time.Minute, cfg.OTP.LockoutWindow)
	assert.Equal(t, Limit{Max: 10, Window: 15 * time.Minute}, cfg.Guard.Login)
	assert.Equal(t, Limit{Max: 3, Window: time.Hour}, cfg.Guard.Signup)
	assert.Equal(t, 15, cfg.Guard.IPFailureThreshold)
	assert.Equal(t, 10, cfg.Guard.PhoneFailureThreshold)
	assert.Equal(t, "memory", cfg.KV.Backend)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", testSecret)
	t.Setenv("SESSION_STORE", "memory")
	t.Setenv("USER_STORE", "memory")
	t.Setenv("LIMIT_LOGIN", "4/2m")
	t.Setenv("OTP_MAX_ATTEMPTS", "3")
	t.Setenv("OTP_LOG_CODES", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, Limit{Max: 4, Window: 2 * time.Minute}, cfg.Guard.Login)
	assert.Equal(t, 3, cfg.OTP.MaxAttempts)
	assert.True(t, cfg.OTP.LogCodes)
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("PORT=9191\nSESSION_STORE=memory\nUSER_STORE=memory\n"), 0o600))
	t.Setenv("JWT_SECRET_KEY", testSecret)
	t.Cleanup(func() {
		_ = os.Unsetenv("PORT")
		_ = os.Unsetenv("SESSION_STORE")
		_ = os.Unsetenv("USER_STORE")
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9191", cfg.Server.Port)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name   string
		env    map[string]string
		errMsg string
	}{
		{
			name:   "missing secret",
			env:    map[string]string{"SESSION_STORE": "memory"},
			errMsg: "JWT_SECRET_KEY environment variable is required",
		},
		{
			name:   "short secret",
			env:    map[string]string{"JWT_SECRET_KEY": "short", "SESSION_STORE": "memory"},
			errMsg: "at least 32 bytes",
		},
		{
			name:   "pending signup shorter than otp",
			env:    map[string]string{"JWT_SECRET_KEY": testSecret, "SESSION_STORE": "memory", "SIGNUP_PENDING_TTL": "1m"},
			errMsg: "SIGNUP_PENDING_TTL",
		},
		{
			name:   "postgres without url",
			env:    map[string]string{"JWT_SECRET_KEY": testSecret},
			errMsg: "DATABASE_URL is required",
		},
		{
			name:   "unknown kv backend",
			env:    map[string]string{"JWT_SECRET_KEY": testSecret, "SESSION_STORE": "memory", "KV_BACKEND": "etcd"},
			errMsg: "KV_BACKEND",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET_KEY", "")
			t.Setenv("DATABASE_URL", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestGetEnvAsLimit_Malformed(t *testing.T) {
	t.Setenv("LIMIT_X", "garbage")
	assert.Equal(t, Limit{Max: 7, Window: time.Minute}, getEnvAsLimit("LIMIT_X", 7, time.Minute))

	t.Setenv("LIMIT_X", "0/nope")
	assert.Equal(t, Limit{Max: 7, Window: time.Minute}, getEnvAsLimit("LIMIT_X", 7, time.Minute))
}
