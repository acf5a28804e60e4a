package http

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restobot/internal/apperrors"
	"restobot/internal/entities"
	"restobot/internal/logger"
	"restobot/internal/repository"
)

type fakeStats struct {
	stats *repository.PlatformStats
	err   error
}

func (f *fakeStats) PlatformStats(context.Context) (*repository.PlatformStats, error) {
	return f.stats, f.err
}

type fakeSessions []string

func (f fakeSessions) ConnectedAgents() []string { return f }

func TestAdminStats(t *testing.T) {
	stats := &fakeStats{stats: &repository.PlatformStats{Restaurants: 3, ActiveAgents: 2, Conversations: 40, MessagesToday: 7}}
	h := NewAdminHandler(stats, fakeSessions{"agent-b", "agent-a"}, logger.NewTestLogger(t))
	r := gin.New()
	r.GET("/stats", h.GetStats)
	r.GET("/whatsapp", h.ConnectedAgents)

	w := doJSON(r, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.EqualValues(t, 3, body["restaurants"])
	assert.EqualValues(t, 7, body["messages_today"])
	assert.EqualValues(t, 2, body["active_wa_connections"])

	w = doJSON(r, http.MethodGet, "/whatsapp", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{"agent-a", "agent-b"}, decode(t, w)["agents"])
}

func TestAdminStats_NoSessionsAndFailure(t *testing.T) {
	h := NewAdminHandler(&fakeStats{err: errors.New("boom")}, nil, logger.NewTestLogger(t))
	r := gin.New()
	r.GET("/stats", h.GetStats)
	r.GET("/whatsapp", h.ConnectedAgents)

	assert.Equal(t, http.StatusInternalServerError, doJSON(r, http.MethodGet, "/stats", "").Code)

	w := doJSON(r, http.MethodGet, "/whatsapp", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decode(t, w)["count"])
}

type fakeLinks struct {
	restaurant *entities.Restaurant
	linked     *int64
}

func (f *fakeLinks) Restaurant(_ context.Context, id string) (*entities.Restaurant, error) {
	if f.restaurant == nil || f.restaurant.ID != id {
		return nil, apperrors.NotFound("fakeLinks.Restaurant", "restaurant")
	}
	return f.restaurant, nil
}

func (f *fakeLinks) LinkTelegram(_ context.Context, _ string, chatID *int64) error {
	f.linked = chatID
	f.restaurant.TelegramChatID = chatID
	return nil
}

type fakeTelegram struct {
	sent []int64
	err  error
}

func (f *fakeTelegram) SendTest(chatID int64) error {
	f.sent = append(f.sent, chatID)
	return f.err
}

func telegramRouter(t *testing.T, bot TelegramSender, links TelegramLinks) *gin.Engine {
	r := gin.New()
	NewTelegramHandler(bot, links, logger.NewTestLogger(t)).RegisterRoutes(r.Group("/api/restaurants/:restaurantID"))
	return r
}

func TestTelegramLinkAndTest(t *testing.T) {
	links := &fakeLinks{restaurant: &entities.Restaurant{ID: "rest-1"}}
	bot := &fakeTelegram{}
	r := telegramRouter(t, bot, links)

	w := doJSON(r, http.MethodPost, "/api/restaurants/rest-1/telegram/test", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodPut, "/api/restaurants/rest-1/telegram", `{"chat_id": -100123}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, links.linked)
	assert.Equal(t, int64(-100123), *links.linked)

	w = doJSON(r, http.MethodGet, "/api/restaurants/rest-1/telegram", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["linked"])

	w = doJSON(r, http.MethodPost, "/api/restaurants/rest-1/telegram/test", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []int64{-100123}, bot.sent)

	bot.err = errors.New("chat not found")
	w = doJSON(r, http.MethodPost, "/api/restaurants/rest-1/telegram/test", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)

	w = doJSON(r, http.MethodPut, "/api/restaurants/rest-1/telegram", `{"chat_id": null}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, links.linked)
}

func TestTelegramWithoutBot(t *testing.T) {
	links := &fakeLinks{restaurant: &entities.Restaurant{ID: "rest-1"}}
	r := telegramRouter(t, nil, links)

	w := doJSON(r, http.MethodPost, "/api/restaurants/rest-1/telegram/test", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = doJSON(r, http.MethodGet, "/api/restaurants/rest-1/telegram", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["bot_configured"])

	w = doJSON(r, http.MethodGet, "/api/restaurants/other/telegram", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
