package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("JWT_SECRET", "jwt-secret")
}

func TestLoadConfig(t *testing.T) {
	t.Run("Success - defaults", func(t *testing.T) {
		setRequiredEnv(t)
		require.NoError(t, LoadConfig())

		seq := AppConfig.Sequence
		assert.Equal(t, time.Minute, seq.TickInterval)
		assert.Equal(t, 5*time.Minute, seq.TickTimeout)
		assert.Greater(t, seq.StaleProcessing, seq.TickTimeout)
		assert.Equal(t, 50, seq.ClaimBatch)
		assert.Equal(t, 1, seq.MaxSendAttempts)
		assert.False(t, seq.CancelOnGuard)
		assert.Equal(t, "log", AppConfig.MailTransport)
		assert.Equal(t, 30, seq.EnrollRateLimit)
	})

	t.Run("Success - overrides", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("SEQUENCE_TICK_INTERVAL", "15s")
		t.Setenv("SEQUENCE_MAX_SEND_ATTEMPTS", "3")
		t.Setenv("SEQUENCE_CANCEL_ON_GUARD", "true")
		t.Setenv("SEQUENCE_CLAIM_BATCH", "not-a-number")
		t.Setenv("SEQUENCE_TICK_TIMEOUT", "20m")
		t.Setenv("SEQUENCE_STALE_PROCESSING", "0s")
		require.NoError(t, LoadConfig())

		seq := AppConfig.Sequence
		assert.Equal(t, 15*time.Second, seq.TickInterval)
		assert.Equal(t, 3, seq.MaxSendAttempts)
		assert.True(t, seq.CancelOnGuard)
		assert.Equal(t, 50, seq.ClaimBatch)
		assert.Equal(t, 20*time.Minute, seq.TickTimeout)
		assert.Zero(t, seq.StaleProcessing, "zero disables the reaper, so any timeout is allowed")
	})

	t.Run("Error - invalid settings", func(t *testing.T) {
		tests := []struct {
			name string
			env  map[string]string
		}{
			{"missing jwt secret", map[string]string{"JWT_SECRET": ""}},
			{"unknown transport", map[string]string{"MAIL_TRANSPORT": "pigeon"}},
			{"sendgrid without key", map[string]string{"MAIL_TRANSPORT": "sendgrid"}},
			{"zero tick", map[string]string{"SEQUENCE_TICK_INTERVAL": "0s"}},
			{"zero tick timeout", map[string]string{"SEQUENCE_TICK_TIMEOUT": "0s"}},
			{"stale claim shorter than tick timeout", map[string]string{"SEQUENCE_TICK_TIMEOUT": "20m", "SEQUENCE_STALE_PROCESSING": "15m"}},
			{"stale claim equal to tick timeout", map[string]string{"SEQUENCE_TICK_TIMEOUT": "15m", "SEQUENCE_STALE_PROCESSING": "15m"}},
			{"zero attempts", map[string]string{"SEQUENCE_MAX_SEND_ATTEMPTS": "0"}},
			{"short production key", map[string]string{"ENVIRONMENT": "production", "ENCRYPTION_KEY": "short"}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				setRequiredEnv(t)
				for k, v := range tt.env {
					t.Setenv(k, v)
				}
				assert.Error(t, LoadConfig())
			})
		}
	})
}

func TestMaskPassword(t *testing.T) {
	assert.Equal(t, "host=db password=***** dbname=x", maskPassword("host=db password=hunter2 dbname=x"))
	assert.Equal(t, "host=db password=*****", maskPassword("host=db password=hunter2"))
	assert.Equal(t, "host=db", maskPassword("host=db"))
}
