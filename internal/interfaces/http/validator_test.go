package http

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restobot/internal/entities"
	"restobot/internal/usecases"
)

func bindRouter[T any]() *gin.Engine {
	r := gin.New()
	r.POST("/bind", func(c *gin.Context) {
		var dst T
		if !bindJSON(c, &dst) {
			return
		}
		c.JSON(http.StatusOK, dst)
	})
	return r
}

func TestBindJSON_EntityRules(t *testing.T) {
	r := bindRouter[entities.Product]()

	w := doJSON(r, http.MethodPost, "/bind", `{"name":"","price":-1,"stock":3}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decode(t, w)
	assert.Equal(t, "validation failed", body["error"])
	assert.Equal(t, map[string]interface{}{"name": "required", "price": "gte=0"}, body["fields"])

	w = doJSON(r, http.MethodPost, "/bind", `{"name":"Margherita","price":39.9,"stock":3}`)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBindJSON_AgentRules(t *testing.T) {
	r := bindRouter[entities.Agent]()

	w := doJSON(r, http.MethodPost, "/bind", `{"name":"Bot","gateway_kind":"telegram","temperature":3}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	fields := decode(t, w)["fields"].(map[string]interface{})
	assert.Equal(t, "oneof=evolution native", fields["gateway_kind"])
	assert.Equal(t, "lte=2", fields["temperature"])

	w = doJSON(r, http.MethodPost, "/bind", `{"name":"Bot","temperature":0.7}`)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBindJSON_NestedOrderDraft(t *testing.T) {
	r := bindRouter[usecases.OrderDraft]()

	w := doJSON(r, http.MethodPost, "/bind", `{"customer_phone":"5511","items":[{"product_id":"p1","quantity":0}]}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	fields := decode(t, w)["fields"].(map[string]interface{})
	assert.Equal(t, "required", fields["items[0].quantity"])

	w = doJSON(r, http.MethodPost, "/bind", `{"customer_phone":"5511","items":[]}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	fields = decode(t, w)["fields"].(map[string]interface{})
	assert.Equal(t, "min=1", fields["items"])
}

func TestBindJSON_BadBody(t *testing.T) {
	r := bindRouter[entities.Category]()

	w := doJSON(r, http.MethodPost, "/bind", `{"name":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid JSON body", decode(t, w)["error"])
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "abc", SanitizeString("a\x00bc"))
	assert.Equal(t, "ok", SanitizeString("o\xffk"))
	assert.Equal(t, "pão de queijo", SanitizeString("pão de queijo"))
}

func TestValidateLength(t *testing.T) {
	assert.True(t, ValidateLength("pão", 1, 3))
	assert.False(t, ValidateLength("", 1, 3))
	assert.False(t, ValidateLength("abcd", 1, 3))
}
