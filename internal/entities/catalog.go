package entities

import (
	"time"

	"github.com/lib/pq"
)

type Category struct {
	ID           string    `db:"id" json:"id"`
	RestaurantID string    `db:"restaurant_id" json:"restaurant_id"`
	Name         string    `db:"name" json:"name" validate:"required"`
	Description  string    `db:"description" json:"description"`
	SortOrder    int       `db:"sort_order" json:"sort_order"`
	IsActive     bool      `db:"is_active" json:"is_active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

type Product struct {
	ID                string    `db:"id" json:"id"`
	RestaurantID      string    `db:"restaurant_id" json:"restaurant_id"`
	CategoryID        *string   `db:"category_id" json:"category_id,omitempty"`
	Name              string    `db:"name" json:"name" validate:"required"`
	Description       string    `db:"description" json:"description"`
	Price             float64   `db:"price" json:"price" validate:"gte=0"`
	Stock             int       `db:"stock" json:"stock" validate:"gte=0"`
	LowStockThreshold int       `db:"low_stock_threshold" json:"low_stock_threshold" validate:"gte=0"`
	IsAvailable       bool      `db:"is_available" json:"is_available"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

type InventoryStatus string

const (
	InventoryAvailable  InventoryStatus = "available"
	InventoryLowStock   InventoryStatus = "low_stock"
	InventoryOutOfStock InventoryStatus = "out_of_stock"
)

// InventoryStatusFor derives the stock label shown to the assistant.
func InventoryStatusFor(stock, lowThreshold int) InventoryStatus {
	switch {
	case stock <= 0:
		return InventoryOutOfStock
	case stock <= lowThreshold:
		return InventoryLowStock
	default:
		return InventoryAvailable
	}
}

func (p *Product) InventoryStatus() InventoryStatus {
	return InventoryStatusFor(p.Stock, p.LowStockThreshold)
}

type Modifier struct {
	ID           string    `db:"id" json:"id"`
	RestaurantID string    `db:"restaurant_id" json:"restaurant_id"`
	ProductID    *string   `db:"product_id" json:"product_id,omitempty"`
	Name         string    `db:"name" json:"name" validate:"required"`
	PriceDelta   float64   `db:"price_delta" json:"price_delta"`
	IsActive     bool      `db:"is_active" json:"is_active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

type PaymentMethod struct {
	ID           string    `db:"id" json:"id"`
	RestaurantID string    `db:"restaurant_id" json:"restaurant_id"`
	Name         string    `db:"name" json:"name" validate:"required"`
	Instructions string    `db:"instructions" json:"instructions"`
	IsActive     bool      `db:"is_active" json:"is_active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

type DeliveryZone struct {
	ID               string         `db:"id" json:"id"`
	RestaurantID     string         `db:"restaurant_id" json:"restaurant_id"`
	Name             string         `db:"name" json:"name" validate:"required"`
	Fee              float64        `db:"fee" json:"fee" validate:"gte=0"`
	MinOrder         float64        `db:"min_order" json:"min_order" validate:"gte=0"`
	EstimatedMinutes int            `db:"estimated_minutes" json:"estimated_minutes"`
	Neighborhoods    pq.StringArray `db:"neighborhoods" json:"neighborhoods"`
	IsActive         bool           `db:"is_active" json:"is_active"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at" json:"updated_at"`
}

type Promotion struct {
	ID              string     `db:"id" json:"id"`
	RestaurantID    string     `db:"restaurant_id" json:"restaurant_id"`
	Title           string     `db:"title" json:"title" validate:"required"`
	Description     string     `db:"description" json:"description"`
	DiscountPercent float64    `db:"discount_percent" json:"discount_percent" validate:"gte=0,lte=100"`
	ValidUntil      *time.Time `db:"valid_until" json:"valid_until,omitempty"`
	IsActive        bool       `db:"is_active" json:"is_active"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// Running reports whether the promotion is active and not expired at now.
func (p *Promotion) Running(now time.Time) bool {
	if !p.IsActive {
		return false
	}
	return p.ValidUntil == nil || p.ValidUntil.After(now)
}
