package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restobot/internal/entities"
	"restobot/internal/logger"
	"restobot/internal/usecases"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeProcessor struct {
	mu     sync.Mutex
	got    []*entities.InboundMessage
	status usecases.Status
	err    error
}

func (f *fakeProcessor) Process(_ context.Context, in *entities.InboundMessage) (usecases.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, in)
	if in == nil {
		return usecases.StatusIgnored, nil
	}
	return f.status, f.err
}

func webhookRouter(t *testing.T, p MessageProcessor) *gin.Engine {
	h := NewHandler(RouterDeps{Pipeline: p, Logger: logger.NewTestLogger(t)})
	r := gin.New()
	r.GET("/webhook/whatsapp", h.VerifyWebhook)
	r.POST("/webhook/whatsapp", h.HandleWebhook)
	return r
}

func doJSON(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestVerifyWebhook_EchoesChallenge(t *testing.T) {
	r := webhookRouter(t, &fakeProcessor{})

	w := doJSON(r, http.MethodGet, "/webhook/whatsapp?token=abc&challenge=xyz", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "xyz", w.Body.String())
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/plain"))
}

func TestVerifyWebhook_MissingParams(t *testing.T) {
	r := webhookRouter(t, &fakeProcessor{})

	for _, q := range []string{"", "?token=abc", "?challenge=xyz", "?token=&challenge=xyz"} {
		w := doJSON(r, http.MethodGet, "/webhook/whatsapp"+q, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
		assert.Equal(t, "verification failed", decode(t, w)["error"], q)
	}
}

const textPayload = `{
	"event": "messages.upsert",
	"instance": "pizzaria",
	"data": {
		"key": {"remoteJid": "5511999990000@s.whatsapp.net", "id": "wamid-1", "fromMe": false},
		"pushName": "Ana",
		"message": {"conversation": "Quero uma pizza"},
		"messageTimestamp": 1700000000
	}
}`

func TestHandleWebhook_ProcessesText(t *testing.T) {
	p := &fakeProcessor{status: usecases.StatusProcessed}
	r := webhookRouter(t, p)

	w := doJSON(r, http.MethodPost, "/webhook/whatsapp", textPayload)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "processed", decode(t, w)["status"])
	require.Len(t, p.got, 1)
	in := p.got[0]
	require.NotNil(t, in)
	assert.Equal(t, "pizzaria", in.Instance)
	assert.Equal(t, "5511999990000", in.SenderPhone)
	assert.Equal(t, "Ana", in.PushName)
	assert.Equal(t, "Quero uma pizza", in.Text)
	assert.Equal(t, "wamid-1", in.ProviderMessageID)
	assert.Equal(t, time.Unix(1700000000, 0), in.ReceivedAt)
}

func TestHandleWebhook_NoMessageIsIgnored(t *testing.T) {
	p := &fakeProcessor{status: usecases.StatusProcessed}
	r := webhookRouter(t, p)

	w := doJSON(r, http.MethodPost, "/webhook/whatsapp", `{"instance":"pizzaria","data":{"key":{"remoteJid":"5511@s.whatsapp.net"}}}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ignored", decode(t, w)["status"])
	require.Len(t, p.got, 1)
	assert.Nil(t, p.got[0])
}

func TestHandleWebhook_PipelineStatusPassesThrough(t *testing.T) {
	for _, status := range []usecases.Status{usecases.StatusNoAgent, usecases.StatusFallbackTriggered, usecases.StatusHumanHandoff} {
		r := webhookRouter(t, &fakeProcessor{status: status})
		w := doJSON(r, http.MethodPost, "/webhook/whatsapp", textPayload)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, string(status), decode(t, w)["status"])
	}
}

func TestHandleWebhook_FailureIsGeneric500(t *testing.T) {
	r := webhookRouter(t, &fakeProcessor{err: errors.New("generate_reply: llm request failed: upstream 502")})

	w := doJSON(r, http.MethodPost, "/webhook/whatsapp", textPayload)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, map[string]interface{}{"error": "internal server error"}, decode(t, w))
}

func TestHandleWebhook_MalformedJSON(t *testing.T) {
	p := &fakeProcessor{}
	r := webhookRouter(t, p)

	w := doJSON(r, http.MethodPost, "/webhook/whatsapp", `{"data":`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, p.got)
}

func TestParseEvolutionPayload(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		body     string
		wantNil  bool
		wantText string
		wantFrom string
	}{
		{
			name:     "conversation text",
			body:     `{"instance":"i","data":{"key":{"remoteJid":"551100@s.whatsapp.net","id":"a"},"message":{"conversation":"oi"}}}`,
			wantText: "oi",
			wantFrom: "551100",
		},
		{
			name:     "extended text",
			body:     `{"data":{"key":{"remoteJid":"551101@s.whatsapp.net"},"message":{"extendedTextMessage":{"text":"link aqui"}}}}`,
			wantText: "link aqui",
			wantFrom: "551101",
		},
		{
			name:     "plain string message",
			body:     `{"data":{"key":{"remoteJid":"551102@s.whatsapp.net"},"message":"cardapio?"}}`,
			wantText: "cardapio?",
			wantFrom: "551102",
		},
		{
			name:     "conversation wins over extended text",
			body:     `{"data":{"key":{"remoteJid":"551103@s.whatsapp.net"},"message":{"conversation":"a","extendedTextMessage":{"text":"b"}}}}`,
			wantText: "a",
			wantFrom: "551103",
		},
		{
			name:    "missing message",
			body:    `{"data":{"key":{"remoteJid":"551100@s.whatsapp.net"}}}`,
			wantNil: true,
		},
		{
			name:    "image without caption",
			body:    `{"data":{"key":{"remoteJid":"551100@s.whatsapp.net"},"message":{"imageMessage":{"url":"x"}}}}`,
			wantNil: true,
		},
		{
			name:    "missing sender",
			body:    `{"data":{"key":{},"message":{"conversation":"oi"}}}`,
			wantNil: true,
		},
		{
			name:    "own echo",
			body:    `{"data":{"key":{"remoteJid":"551100@s.whatsapp.net","fromMe":true},"message":{"conversation":"oi"}}}`,
			wantNil: true,
		},
		{
			name:    "group chat",
			body:    `{"data":{"key":{"remoteJid":"1203630@g.us"},"message":{"conversation":"oi"}}}`,
			wantNil: true,
		},
		{
			name:    "blank text",
			body:    `{"data":{"key":{"remoteJid":"551100@s.whatsapp.net"},"message":{"conversation":"   "}}}`,
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseEvolutionPayload([]byte(tt.body), now)
			if tt.wantNil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.wantText, got.Text)
			assert.Equal(t, tt.wantFrom, got.SenderPhone)
			assert.Equal(t, now, got.ReceivedAt)
		})
	}
}

func TestHealth(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	h := NewHandler(RouterDeps{Logger: logger.NewNoOpLogger(), Health: map[string]HealthCheck{"postgres": ok}})
	r := gin.New()
	r.GET("/healthz", h.Health)
	w := doJSON(r, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)

	h = NewHandler(RouterDeps{Logger: logger.NewNoOpLogger(), Health: map[string]HealthCheck{"postgres": ok, "redis": down}})
	r = gin.New()
	r.GET("/healthz", h.Health)
	w = doJSON(r, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decode(t, w)
	assert.Equal(t, map[string]interface{}{"redis": "connection refused"}, body["failing"])
}
