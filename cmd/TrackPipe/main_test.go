package main

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/TrackPipe/internal/api"
	"github.com/BTreeMap/TrackPipe/internal/store"
	"github.com/BTreeMap/TrackPipe/internal/testutil"
)

var configEnv = []string{
	"TRACKPIPE_STATE_DIR", "TRACKPIPE_DB_DSN", "DATABASE_URL", "WHATSAPP_DB_DSN", "TRACKPIPE_TRANSPORT",
	"API_ADDR", "TRACKPIPE_API_TOKEN", "TRACKPIPE_PUBLIC_URL", "TRACKPIPE_TIMEZONE",
	"TRACKPIPE_IDLE_TIMEOUT", "TRACKPIPE_DEBUG", "OPENAI_API_KEY",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configEnv {
		t.Setenv(k, "")
	}
}

func TestConfigDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := parseFlags(loadEnvironmentConfig(), nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultStateDir, cfg.StateDir)
	assert.Equal(t, filepath.Join(DefaultStateDir, DefaultAppDBFileName), cfg.DatabaseDSN)
	assert.Equal(t, "file:"+filepath.Join(DefaultStateDir, DefaultWhatsAppDBFileName)+"?_foreign_keys=on", cfg.WhatsAppDSN)
	assert.Equal(t, TransportWhatsApp, cfg.Transport)
	assert.Equal(t, api.DefaultAddr, cfg.APIAddr)
	assert.Equal(t, time.Duration(0), cfg.IdleTimeout)
	assert.False(t, cfg.Debug)
}

func TestConfigFromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://u:p@db/track")
	t.Setenv("TRACKPIPE_TRANSPORT", "Twilio")
	t.Setenv("TRACKPIPE_IDLE_TIMEOUT", "30")
	t.Setenv("TRACKPIPE_DEBUG", "yes")
	t.Setenv("TRACKPIPE_API_TOKEN", "tok")

	cfg, err := parseFlags(loadEnvironmentConfig(), nil)
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@db/track", cfg.DatabaseDSN)
	assert.Equal(t, "postgres", store.DetectDSNType(cfg.DatabaseDSN))
	assert.Equal(t, TransportTwilio, cfg.Transport)
	assert.Equal(t, 30*time.Minute, cfg.IdleTimeout)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "tok", cfg.APIToken)

	t.Setenv("TRACKPIPE_DB_DSN", "/data/own.db")
	cfg, err = parseFlags(loadEnvironmentConfig(), nil)
	require.NoError(t, err)
	assert.Equal(t, "/data/own.db", cfg.DatabaseDSN, "TRACKPIPE_DB_DSN wins over DATABASE_URL")
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("API_ADDR", ":9000")

	cfg, err := parseFlags(loadEnvironmentConfig(), []string{
		"-state-dir", "/tmp/tp", "-api-addr", ":9100", "-idle-timeout", "45m", "-timezone", "Europe/Moscow",
	})
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.APIAddr)
	assert.Equal(t, 45*time.Minute, cfg.IdleTimeout)
	assert.Equal(t, filepath.Join("/tmp/tp", DefaultAppDBFileName), cfg.DatabaseDSN, "DSNs follow the state dir flag")
	assert.Equal(t, "file:"+filepath.Join("/tmp/tp", DefaultWhatsAppDBFileName)+"?_foreign_keys=on", cfg.WhatsAppDSN)

	loc, err := cfg.location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Moscow", loc.String())
}

func TestConfigRejectsBadValues(t *testing.T) {
	clearEnv(t)
	_, err := parseFlags(loadEnvironmentConfig(), []string{"-transport", "telegram"})
	assert.Error(t, err)
	_, err = parseFlags(loadEnvironmentConfig(), []string{"-idle-timeout", "-5m"})
	assert.Error(t, err)

	_, err = Config{Timezone: "Mars/Olympus"}.location()
	assert.Error(t, err)
	loc, err := Config{Timezone: "Local"}.location()
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)
}

func TestWebhookURL(t *testing.T) {
	assert.Equal(t, "https://bot.example.com/webhook/twilio", webhookURL("https://bot.example.com/"))
}

func TestDeliverOutbox(t *testing.T) {
	rec := &testutil.RecordingSender{}
	send := deliverOutbox(rec)

	msg := store.OutboxMessage{ID: "outbox_1", UserID: "79990001122", Kind: "reminder", Body: "Заполните день"}
	require.NoError(t, send(context.Background(), msg))
	assert.Equal(t, []string{"Заполните день"}, rec.Bodies("79990001122"))

	rec.Err = errors.New("offline")
	err := send(context.Background(), msg)
	require.Error(t, err)
	assert.ErrorIs(t, err, rec.Err)
	assert.Contains(t, err.Error(), "reminder outbox_1")
}

func TestOutboxDeliveryEndToEnd(t *testing.T) {
	st := store.NewInMemoryStore()
	rec := &testutil.RecordingSender{}
	_, err := st.EnqueueOutboxMessage(context.Background(), "u1", "reminder", "hello", "reminder:u1:2026-03-10")
	require.NoError(t, err)

	store.NewOutboxSender(st, deliverOutbox(rec), time.Second).Poll(context.Background())
	assert.Equal(t, []string{"hello"}, rec.Bodies("u1"))
}
