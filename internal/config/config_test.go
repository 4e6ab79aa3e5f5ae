package config

import (
	"bytes"
	"testing"
	"time"

	"whatsapp-crm/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("WHATSAPP_API_VERSION", "")
	t.Setenv("META_TIMEOUT", "")
	cfg := LoadConfig()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "", cfg.APIVersion, "explicitly empty env wins over fallback")
	assert.Equal(t, 10*time.Second, cfg.MetadataTimeout)
	assert.Equal(t, 120*time.Second, cfg.MediaTimeout)
	assert.Equal(t, int64(100*1024*1024), cfg.MaxUploadBytes)
	assert.Equal(t, 24*time.Hour, cfg.WebhookDedupTTL)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("WHATSAPP_API_VERSION", "v19.0")
	t.Setenv("MEDIA_TIMEOUT", "45s")
	t.Setenv("MAX_UPLOAD_BYTES", "1024")
	t.Setenv("MINIO_USE_SSL", "true")
	t.Setenv("SEND_TIMEOUT", "not-a-duration")

	cfg := LoadConfig()
	assert.Equal(t, "v19.0", cfg.APIVersion)
	assert.Equal(t, 45*time.Second, cfg.MediaTimeout)
	assert.Equal(t, int64(1024), cfg.MaxUploadBytes)
	assert.True(t, cfg.MinioUseSSL)
	assert.Equal(t, 30*time.Second, cfg.SendTimeout)
}

func TestRequireCredentials(t *testing.T) {
	cfg := &Config{}
	assert.ErrorIs(t, cfg.RequireSendCredentials(), ErrSendCredentials)
	assert.ErrorIs(t, cfg.RequireTemplateSync(), ErrSyncCredentials)

	cfg.WhatsAppToken = "token"
	cfg.PhoneNumberID = "123"
	cfg.WhatsAppBusinessAccountID = "waba"
	assert.NoError(t, cfg.RequireSendCredentials())
	assert.NoError(t, cfg.RequireTemplateSync())
}

func TestMalformedValuesBecomeWarnings(t *testing.T) {
	t.Setenv("SEND_TIMEOUT", "soon")
	t.Setenv("MAX_UPLOAD_BYTES", "lots")
	t.Setenv("MINIO_USE_SSL", "maybe")

	cfg := LoadConfig()
	assert.Equal(t, 30*time.Second, cfg.SendTimeout)
	assert.False(t, cfg.MinioUseSSL)
	assert.Contains(t, cfg.Warnings, `invalid duration for SEND_TIMEOUT: "soon"`)
	assert.Contains(t, cfg.Warnings, `invalid integer for MAX_UPLOAD_BYTES: "lots"`)
	assert.Contains(t, cfg.Warnings, `invalid boolean for MINIO_USE_SSL: "maybe"`)

	var buf bytes.Buffer
	cfg.LogWarnings(logging.NewWithWriter(&buf, "info"))
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, len(cfg.Warnings))
	assert.Contains(t, buf.String(), `"level":"WARN"`)
	assert.Contains(t, buf.String(), `config: invalid duration for SEND_TIMEOUT`)
}
