package http

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restobot/internal/logger"
	"restobot/internal/repository"
	"restobot/internal/usecases"
)

func dashboardRouter(t *testing.T) (*gin.Engine, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	db := sqlx.NewDb(mockDB, "postgres")

	h := NewHandler(RouterDeps{
		Catalog: repository.NewCatalogRepository(db, nil),
		Config:  repository.NewConfigRepository(db, nil),
		Logger:  logger.NewTestLogger(t),
	})
	r := gin.New()
	g := r.Group("/api/restaurants/:restaurantID")
	h.registerCatalog(g)
	h.registerConfig(g)
	return r, mock
}

func TestResource_CreateCategory(t *testing.T) {
	r, mock := dashboardRouter(t)

	mock.ExpectQuery(`INSERT INTO categories \(restaurant_id, name, description, sort_order, is_active\)`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "restaurant_id", "name", "sort_order", "is_active"}).
			AddRow("cat-1", "rest-1", "Pizzas", 1, true))

	w := doJSON(r, http.MethodPost, "/api/restaurants/rest-1/categories", `{"name":"Pizzas","sort_order":1,"is_active":true,"restaurant_id":"someone-else"}`)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "cat-1", body["id"])
	assert.Equal(t, "rest-1", body["restaurant_id"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResource_ValidationStopsBeforeStore(t *testing.T) {
	r, mock := dashboardRouter(t)

	w := doJSON(r, http.MethodPost, "/api/restaurants/rest-1/delivery-zones", `{"name":"Centro","fee":-5}`)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, map[string]interface{}{"fee": "gte=0"}, decode(t, w)["fields"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResource_ListRejectsUnknownFilter(t *testing.T) {
	r, _ := dashboardRouter(t)

	w := doJSON(r, http.MethodGet, "/api/restaurants/rest-1/products?password=x", "")

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResource_ListWithFilterAndPaging(t *testing.T) {
	r, mock := dashboardRouter(t)

	mock.ExpectQuery(`SELECT \* FROM products WHERE restaurant_id = \$1 AND is_available = \$2 ORDER BY price DESC LIMIT 10 OFFSET 20`).
		WithArgs("rest-1", "true").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "price"}).AddRow("p-1", "Calabresa", 42.0))

	w := doJSON(r, http.MethodGet, "/api/restaurants/rest-1/products?is_available=true&order=price&desc=true&limit=10&offset=20", "")

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var rows []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "Calabresa", rows[0]["name"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResource_GetMissing(t *testing.T) {
	r, mock := dashboardRouter(t)

	mock.ExpectQuery(`SELECT \* FROM promotions WHERE id = \$1 AND restaurant_id = \$2`).
		WithArgs("promo-9", "rest-1").
		WillReturnError(sql.ErrNoRows)

	w := doJSON(r, http.MethodGet, "/api/restaurants/rest-1/promotions/promo-9", "")

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestResource_ProductDeleteIsSoft(t *testing.T) {
	r, mock := dashboardRouter(t)

	mock.ExpectExec(`UPDATE products SET is_available = false`).
		WithArgs("p-1", "rest-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := doJSON(r, http.MethodDelete, "/api/restaurants/rest-1/products/p-1", "")

	assert.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResource_ScenarioAgentMustBelongToRestaurant(t *testing.T) {
	r, mock := dashboardRouter(t)

	mock.ExpectQuery(`SELECT \* FROM agents WHERE id = \$1 AND restaurant_id = \$2`).
		WithArgs("agent-x", "rest-1").
		WillReturnError(sql.ErrNoRows)

	w := doJSON(r, http.MethodPost, "/api/restaurants/rest-1/fallback-scenarios", `{"agent_id":"agent-x","name":"Angry","sentiment_threshold":-0.5,"auto_trigger":true}`)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w)["error"], "agent_id")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResource_AgentUpdateKeepsGatewayKey(t *testing.T) {
	r, mock := dashboardRouter(t)

	mock.ExpectQuery(`SELECT \* FROM agents WHERE id = \$1 AND restaurant_id = \$2`).
		WithArgs("agent-1", "rest-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "restaurant_id", "name", "evolution_api_key", "gateway_kind"}).
			AddRow("agent-1", "rest-1", "Bia", "stored-key", "evolution"))

	args := make([]driver.Value, 17)
	for i := range args {
		args[i] = sqlmock.AnyArg()
	}
	args[9] = "stored-key"
	mock.ExpectQuery(`UPDATE agents SET`).
		WithArgs(args...).
		WillReturnRows(sqlmock.NewRows([]string{"id", "restaurant_id", "name", "evolution_api_key", "gateway_kind"}).
			AddRow("agent-1", "rest-1", "Bia 2", "stored-key", "evolution"))

	w := doJSON(r, http.MethodPut, "/api/restaurants/rest-1/agents/agent-1", `{"name":"Bia 2","temperature":0.5}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), "stored-key")
	assert.Equal(t, "Bia 2", decode(t, w)["name"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResource_AgentCreateTakesGatewayKey(t *testing.T) {
	r, mock := dashboardRouter(t)

	args := make([]driver.Value, 16)
	for i := range args {
		args[i] = sqlmock.AnyArg()
	}
	args[8] = "evolution"    // gateway_kind defaulted
	args[10] = "new-api-key" // evolution_api_key
	mock.ExpectQuery(`INSERT INTO agents`).
		WithArgs(args...).
		WillReturnRows(sqlmock.NewRows([]string{"id", "restaurant_id", "name"}).AddRow("agent-2", "rest-1", "Léo"))

	w := doJSON(r, http.MethodPost, "/api/restaurants/rest-1/agents", `{"name":"Léo","evolution_api_key":"new-api-key"}`)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), "new-api-key")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetupRoutes_FullRouter(t *testing.T) {
	mockDB, _, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()
	db := sqlx.NewDb(mockDB, "postgres")

	mw, _ := newTestMiddleware(t, &fakeOwners{}, nil)
	r := gin.New()
	require.NotPanics(t, func() {
		SetupRoutes(r, RouterDeps{
			Pipeline:   &fakeProcessor{status: usecases.StatusProcessed},
			Config:     repository.NewConfigRepository(db, nil),
			Catalog:    repository.NewCatalogRepository(db, nil),
			Middleware: mw,
			Logger:     logger.NewTestLogger(t),
		})
	})

	w := doJSON(r, http.MethodGet, "/webhook/whatsapp?token=t&challenge=c", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "c", w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	w = doJSON(r, http.MethodPost, "/webhook/whatsapp", textPayload)
	assert.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, http.StatusUnauthorized, doJSON(r, http.MethodGet, "/api/restaurants", "").Code)
	assert.Equal(t, http.StatusUnauthorized, doJSON(r, http.MethodGet, "/api/restaurants/r1/products", "").Code)
	assert.Equal(t, http.StatusUnauthorized, doJSON(r, http.MethodGet, "/api/admin/stats", "").Code)
	assert.Equal(t, http.StatusOK, doJSON(r, http.MethodGet, "/healthz", "").Code)
}
