package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"whatsapp-crm/internal/config"
	"whatsapp-crm/internal/inbound"
	"whatsapp-crm/pkg/logging"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingProcessor struct {
	payloads []inbound.WebhookPayload
	ctxErr   error
}

func (r *recordingProcessor) Process(ctx context.Context, payload inbound.WebhookPayload) inbound.Result {
	r.payloads = append(r.payloads, payload)
	r.ctxErr = ctx.Err()
	return inbound.Result{Outcome: inbound.OutcomePostFailed}
}

func newRouter(proc Processor) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(&config.Config{VerifyToken: "s3cret"}, proc, logging.New("error"))
	r := gin.New()
	r.GET("/webhook", h.VerifyWebhook)
	r.POST("/webhook", h.HandleMessage)
	return r
}

func TestVerifyWebhook(t *testing.T) {
	tests := []struct {
		name  string
		query string
		code  int
		body  string
	}{
		{"matching token", "hub.mode=subscribe&hub.verify_token=s3cret&hub.challenge=12345", http.StatusOK, "12345"},
		{"wrong token", "hub.mode=subscribe&hub.verify_token=nope&hub.challenge=12345", http.StatusForbidden, ""},
		{"wrong mode", "hub.mode=unsubscribe&hub.verify_token=s3cret&hub.challenge=12345", http.StatusForbidden, ""},
		{"no parameters", "", http.StatusForbidden, ""},
	}
	r := newRouter(&recordingProcessor{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/webhook?"+tt.query, nil))
			assert.Equal(t, tt.code, w.Code)
			assert.Equal(t, tt.body, w.Body.String())
		})
	}
}

func TestVerifyWebhookEmptyConfiguredToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHandler(&config.Config{}, &recordingProcessor{}, nil)
	r := gin.New()
	r.GET("/webhook", h.VerifyWebhook)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=&hub.challenge=1", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandleMessageAlwaysAcknowledges(t *testing.T) {
	proc := &recordingProcessor{}
	r := newRouter(proc)

	body := `{"entry":[{"changes":[{"value":{"messages":[{"id":"wamid.1","from":"201001234567","type":"text","text":{"body":"Hi"}}]}}]}]}`
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body)))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	require.Len(t, proc.payloads, 1)
	raw, _, ok := proc.payloads[0].FirstMessage()
	require.True(t, ok)
	assert.Equal(t, "201001234567", raw.From)
	assert.NoError(t, proc.ctxErr)
}

func TestHandleMessageMalformedBody(t *testing.T) {
	proc := &recordingProcessor{}
	r := newRouter(proc)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"entry":`)))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, proc.payloads)
}
