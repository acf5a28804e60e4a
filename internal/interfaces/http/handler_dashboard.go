package http

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"restobot/internal/apperrors"
	"restobot/internal/entities"
	"restobot/internal/repository"
	"restobot/internal/usecases"
)

// ========================================
// Auth
// ========================================

type registerRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Name     string `json:"name" validate:"max=120"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if !bindJSON(c, &req) {
		return
	}
	user, err := h.auth.Register(c.Request.Context(), req.Email, SanitizeString(req.Name), req.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}
	token, err := h.auth.IssueToken(user)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"token": token, "user": user})
}

func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if !bindJSON(c, &req) {
		return
	}
	token, user, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
}

// ========================================
// Restaurants
// ========================================

type restaurantRequest struct {
	Name    string `json:"name" validate:"required,max=256"`
	Phone   string `json:"phone" validate:"max=32"`
	Address string `json:"address" validate:"max=500"`
}

func (h *Handler) ListRestaurants(c *gin.Context) {
	rows, err := h.dashboard.Restaurants(c.Request.Context(), c.GetString(ctxUserID))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

// CreateRestaurant also provisions the default agent and escalation scenario.
func (h *Handler) CreateRestaurant(c *gin.Context) {
	var req restaurantRequest
	if !bindJSON(c, &req) {
		return
	}
	restaurant := &entities.Restaurant{
		Name:    SanitizeString(req.Name),
		Phone:   req.Phone,
		Address: SanitizeString(req.Address),
	}
	agent, err := h.dashboard.CreateRestaurant(c.Request.Context(), c.GetString(ctxUserID), restaurant)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"restaurant": restaurant, "agent": agent})
}

func (h *Handler) GetRestaurant(c *gin.Context) {
	restaurant, err := h.dashboard.Restaurant(c.Request.Context(), c.Param("restaurantID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, restaurant)
}

func (h *Handler) UpdateRestaurant(c *gin.Context) {
	var req restaurantRequest
	if !bindJSON(c, &req) {
		return
	}
	restaurant, err := h.dashboard.Restaurant(c.Request.Context(), c.Param("restaurantID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	restaurant.Name = SanitizeString(req.Name)
	restaurant.Phone = req.Phone
	restaurant.Address = SanitizeString(req.Address)
	if err := h.dashboard.UpdateRestaurant(c.Request.Context(), restaurant); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, restaurant)
}

// ========================================
// Table managers
// ========================================

// resource wires one restaurant-scoped table to list/get/create/update/delete
// routes. identify stamps path identity onto a decoded row; prepare, when
// set, checks references and fills fields the body cannot carry. existing
// is nil on create.
type resource[T any] struct {
	path     string
	table    *repository.Table[T]
	identify func(row *T, restaurantID, id string)
	prepare  func(c *gin.Context, row, existing *T) error
}

func registerResource[T any](g *gin.RouterGroup, h *Handler, res resource[T]) {
	base := "/" + res.path
	item := base + "/:id"

	g.GET(base, func(c *gin.Context) {
		opts, err := listOptions(c)
		if err != nil {
			h.respondError(c, err)
			return
		}
		rows, err := res.table.List(c.Request.Context(), c.Param("restaurantID"), opts)
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, rows)
	})

	g.GET(item, func(c *gin.Context) {
		row, err := res.table.Get(c.Request.Context(), c.Param("restaurantID"), c.Param("id"))
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, row)
	})

	g.POST(base, func(c *gin.Context) {
		row := new(T)
		if !bindJSON(c, row) {
			return
		}
		res.identify(row, c.Param("restaurantID"), "")
		if res.prepare != nil {
			if err := res.prepare(c, row, nil); err != nil {
				h.respondError(c, err)
				return
			}
		}
		if err := res.table.Create(c.Request.Context(), row); err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, row)
	})

	g.PUT(item, func(c *gin.Context) {
		restaurantID, id := c.Param("restaurantID"), c.Param("id")
		existing, err := res.table.Get(c.Request.Context(), restaurantID, id)
		if err != nil {
			h.respondError(c, err)
			return
		}
		row := new(T)
		if !bindJSON(c, row) {
			return
		}
		res.identify(row, restaurantID, id)
		if res.prepare != nil {
			if err := res.prepare(c, row, existing); err != nil {
				h.respondError(c, err)
				return
			}
		}
		if err := res.table.Update(c.Request.Context(), row); err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, row)
	})

	g.DELETE(item, func(c *gin.Context) {
		if err := res.table.Delete(c.Request.Context(), c.Param("restaurantID"), c.Param("id")); err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "deleted"})
	})
}

var listParams = map[string]bool{"order": true, "desc": true, "limit": true, "offset": true}

// listOptions turns the query string into table list options. Every
// parameter that is not a paging key is an equality filter.
func listOptions(c *gin.Context) (repository.ListOptions, error) {
	op := "http.listOptions"
	opts := repository.ListOptions{
		Filters: map[string]string{},
		OrderBy: c.Query("order"),
		Desc:    c.Query("desc") == "true",
	}
	for key, values := range c.Request.URL.Query() {
		if listParams[key] || len(values) == 0 {
			continue
		}
		opts.Filters[key] = values[0]
	}
	var err error
	if opts.Limit, err = queryInt(c, "limit", 0); err != nil {
		return opts, apperrors.Invalid(op, "limit must be a number")
	}
	if opts.Offset, err = queryInt(c, "offset", 0); err != nil {
		return opts, apperrors.Invalid(op, "offset must be a number")
	}
	return opts, nil
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func (h *Handler) registerCatalog(g *gin.RouterGroup) {
	registerResource(g, h, resource[entities.Category]{
		path:  "categories",
		table: h.catalog.Categories,
		identify: func(r *entities.Category, rid, id string) {
			r.RestaurantID, r.ID = rid, id
		},
	})
	registerResource(g, h, resource[entities.Product]{
		path:  "products",
		table: h.catalog.Products,
		identify: func(r *entities.Product, rid, id string) {
			r.RestaurantID, r.ID = rid, id
		},
		prepare: func(c *gin.Context, r, _ *entities.Product) error {
			if r.CategoryID == nil || *r.CategoryID == "" {
				r.CategoryID = nil
				return nil
			}
			return h.belongs(c, "category_id", func() error {
				_, err := h.catalog.Categories.Get(c.Request.Context(), r.RestaurantID, *r.CategoryID)
				return err
			})
		},
	})
	registerResource(g, h, resource[entities.Modifier]{
		path:  "modifiers",
		table: h.catalog.Modifiers,
		identify: func(r *entities.Modifier, rid, id string) {
			r.RestaurantID, r.ID = rid, id
		},
		prepare: func(c *gin.Context, r, _ *entities.Modifier) error {
			if r.ProductID == nil || *r.ProductID == "" {
				r.ProductID = nil
				return nil
			}
			return h.belongs(c, "product_id", func() error {
				_, err := h.catalog.Products.Get(c.Request.Context(), r.RestaurantID, *r.ProductID)
				return err
			})
		},
	})
	registerResource(g, h, resource[entities.PaymentMethod]{
		path:  "payment-methods",
		table: h.catalog.PaymentMethods,
		identify: func(r *entities.PaymentMethod, rid, id string) {
			r.RestaurantID, r.ID = rid, id
		},
	})
	registerResource(g, h, resource[entities.DeliveryZone]{
		path:  "delivery-zones",
		table: h.catalog.DeliveryZones,
		identify: func(r *entities.DeliveryZone, rid, id string) {
			r.RestaurantID, r.ID = rid, id
		},
	})
	registerResource(g, h, resource[entities.Promotion]{
		path:  "promotions",
		table: h.catalog.Promotions,
		identify: func(r *entities.Promotion, rid, id string) {
			r.RestaurantID, r.ID = rid, id
		},
	})

	g.POST("/products/import", h.ImportProducts)
}

// agentSecret carries the gateway key, which never leaves the server in
// responses.
type agentSecret struct {
	EvolutionAPIKey *string `json:"evolution_api_key"`
}

func (h *Handler) registerConfig(g *gin.RouterGroup) {
	registerResource(g, h, resource[entities.Agent]{
		path:  "agents",
		table: h.config.Agents,
		identify: func(r *entities.Agent, rid, id string) {
			r.RestaurantID, r.ID = rid, id
		},
		prepare: func(c *gin.Context, r, existing *entities.Agent) error {
			var secret agentSecret
			if err := c.ShouldBindBodyWith(&secret, binding.JSON); err != nil {
				return apperrors.Invalid("http.prepareAgent", "invalid JSON body")
			}
			switch {
			case secret.EvolutionAPIKey != nil:
				r.EvolutionAPIKey = *secret.EvolutionAPIKey
			case existing != nil:
				r.EvolutionAPIKey = existing.EvolutionAPIKey
			}
			if r.GatewayKind == "" {
				r.GatewayKind = entities.GatewayEvolution
			}
			r.Instructions = SanitizeString(r.Instructions)
			r.Personality = SanitizeString(r.Personality)
			return nil
		},
	})
	registerResource(g, h, resource[entities.FallbackScenario]{
		path:  "fallback-scenarios",
		table: h.config.Scenarios,
		identify: func(r *entities.FallbackScenario, rid, id string) {
			r.RestaurantID, r.ID = rid, id
		},
		prepare: func(c *gin.Context, r, _ *entities.FallbackScenario) error {
			return h.belongs(c, "agent_id", func() error {
				_, err := h.config.Agents.Get(c.Request.Context(), r.RestaurantID, r.AgentID)
				return err
			})
		},
	})
}

// belongs runs a scoped lookup for a referenced row and reports a missing
// one as a bad field rather than a missing resource.
func (h *Handler) belongs(c *gin.Context, field string, lookup func() error) error {
	err := lookup()
	if apperrors.IsCode(err, apperrors.CodeNotFound) {
		return apperrors.Invalid("http.belongs", fmt.Sprintf("%s does not belong to this restaurant", field))
	}
	return err
}

// ImportProducts accepts a CSV either as the multipart field "file" or as
// the raw body.
func (h *Handler) ImportProducts(c *gin.Context) {
	restaurantID := c.Param("restaurantID")
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		file, _, err := c.Request.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing file"})
			return
		}
		defer file.Close()
		report, err := h.dashboard.ImportProducts(c.Request.Context(), restaurantID, file)
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, report)
		return
	}

	report, err := h.dashboard.ImportProducts(c.Request.Context(), restaurantID, c.Request.Body)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, report)
}

// ========================================
// Orders
// ========================================

type statusRequest struct {
	Status string `json:"status" validate:"required"`
}

func (h *Handler) ListOrders(c *gin.Context) {
	status := entities.OrderStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown order status"})
		return
	}
	limit, err1 := queryInt(c, "limit", 50)
	offset, err2 := queryInt(c, "offset", 0)
	if err1 != nil || err2 != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit and offset must be numbers"})
		return
	}
	orders, err := h.orders.List(c.Request.Context(), c.Param("restaurantID"), status, limit, offset)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

// OrderBoard groups orders by status for the kanban view.
func (h *Handler) OrderBoard(c *gin.Context) {
	board, err := h.orders.Board(c.Request.Context(), c.Param("restaurantID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, board)
}

func (h *Handler) GetOrder(c *gin.Context) {
	order, err := h.orders.Get(c.Request.Context(), c.Param("restaurantID"), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) CreateOrder(c *gin.Context) {
	var draft usecases.OrderDraft
	if !bindJSON(c, &draft) {
		return
	}
	order, err := h.orders.Place(c.Request.Context(), c.Param("restaurantID"), draft)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (h *Handler) UpdateOrderStatus(c *gin.Context) {
	var req statusRequest
	if !bindJSON(c, &req) {
		return
	}
	order, err := h.orders.Advance(c.Request.Context(), c.Param("restaurantID"), c.Param("id"), entities.OrderStatus(req.Status))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// ========================================
// Conversations
// ========================================

type replyRequest struct {
	Text string `json:"text" validate:"required,max=4096"`
}

func (h *Handler) ListConversations(c *gin.Context) {
	opts, err := listOptions(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if opts.OrderBy == "" {
		opts.OrderBy, opts.Desc = "last_message_at", true
	}
	rows, err := h.conversations.List(c.Request.Context(), c.Param("restaurantID"), opts)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *Handler) GetConversation(c *gin.Context) {
	conv, err := h.conversations.Get(c.Request.Context(), c.Param("restaurantID"), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h *Handler) ConversationMessages(c *gin.Context) {
	limit, err1 := queryInt(c, "limit", 100)
	offset, err2 := queryInt(c, "offset", 0)
	if err1 != nil || err2 != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit and offset must be numbers"})
		return
	}
	msgs, err := h.conversations.Messages(c.Request.Context(), c.Param("restaurantID"), c.Param("id"), limit, offset)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

// ReplyToConversation sends a staff message to the customer.
func (h *Handler) ReplyToConversation(c *gin.Context) {
	var req replyRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.conversations.Reply(c.Request.Context(), c.Param("restaurantID"), c.Param("id"), SanitizeString(req.Text))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *Handler) UpdateConversationStatus(c *gin.Context) {
	var req statusRequest
	if !bindJSON(c, &req) {
		return
	}
	next := entities.ConversationStatus(req.Status)
	conv, err := h.conversations.SetStatus(c.Request.Context(), c.Param("restaurantID"), c.Param("id"), next)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

// ========================================
// Analytics and A/B tests
// ========================================

func (h *Handler) Analytics(c *gin.Context) {
	days, err := queryInt(c, "days", 30)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "days must be a number"})
		return
	}
	overview, err := h.dashboard.Analytics(c.Request.Context(), c.Param("restaurantID"), days)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, overview)
}

func (h *Handler) Forecast(c *gin.Context) {
	window, err1 := queryInt(c, "window", 28)
	horizon, err2 := queryInt(c, "horizon", 7)
	if err1 != nil || err2 != nil || window > 365 || horizon > 90 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "window (max 365) and horizon (max 90) must be numbers"})
		return
	}
	rows, err := h.dashboard.Forecast(c.Request.Context(), c.Param("restaurantID"), window, horizon)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

type variantRequest struct {
	Name         string  `json:"name" validate:"required,max=120"`
	Instructions string  `json:"instructions" validate:"max=20000"`
	Weight       float64 `json:"weight" validate:"gte=0"`
}

type testRequest struct {
	Name     string           `json:"name" validate:"required,max=120"`
	Running  bool             `json:"is_running"`
	Variants []variantRequest `json:"variants" validate:"required,min=2,dive"`
}

func (h *Handler) ListTests(c *gin.Context) {
	tests, err := h.dashboard.Tests(c.Request.Context(), c.Param("restaurantID"), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tests)
}

func (h *Handler) CreateTest(c *gin.Context) {
	var req testRequest
	if !bindJSON(c, &req) {
		return
	}
	test := &entities.ABTest{AgentID: c.Param("id"), Name: req.Name, IsRunning: req.Running}
	variants := make([]entities.ABTestVariant, 0, len(req.Variants))
	for _, v := range req.Variants {
		variants = append(variants, entities.ABTestVariant{
			Name:         v.Name,
			Instructions: SanitizeString(v.Instructions),
			Weight:       v.Weight,
		})
	}
	if err := h.dashboard.CreateTest(c.Request.Context(), c.Param("restaurantID"), test, variants); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"test": test, "variants": variants})
}

func (h *Handler) SetTestRunning(c *gin.Context) {
	var req struct {
		Running *bool `json:"is_running" validate:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	err := h.dashboard.SetTestRunning(c.Request.Context(), c.Param("restaurantID"), c.Param("id"), c.Param("testID"), *req.Running)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated", "is_running": *req.Running})
}

func (h *Handler) TestResults(c *gin.Context) {
	stats, err := h.dashboard.TestResults(c.Request.Context(), c.Param("restaurantID"), c.Param("id"), c.Param("testID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
