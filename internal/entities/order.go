package entities

import (
	"fmt"
	"math"
	"time"

	"restobot/internal/apperrors"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderConfirmed OrderStatus = "confirmed"
	OrderPreparing OrderStatus = "preparing"
	OrderReady     OrderStatus = "ready"
	OrderDelivered OrderStatus = "delivered"
	OrderCancelled OrderStatus = "cancelled"
)

// OrderStatuses lists the kanban columns in display order.
var OrderStatuses = []OrderStatus{
	OrderPending, OrderConfirmed, OrderPreparing, OrderReady, OrderDelivered, OrderCancelled,
}

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:   {OrderConfirmed, OrderCancelled},
	OrderConfirmed: {OrderPreparing, OrderCancelled},
	OrderPreparing: {OrderReady},
	OrderReady:     {OrderDelivered},
	OrderDelivered: nil,
	OrderCancelled: nil,
}

func (s OrderStatus) Valid() bool {
	_, ok := orderTransitions[s]
	return ok
}

func (s OrderStatus) Terminal() bool {
	return s == OrderDelivered || s == OrderCancelled
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s OrderStatus) Transition(next OrderStatus) (OrderStatus, error) {
	if !next.Valid() {
		return s, apperrors.Invalid("OrderStatus.Transition", fmt.Sprintf("unknown order status %q", next))
	}
	if !s.CanTransitionTo(next) {
		return s, fmt.Errorf("order %s -> %s: %w", s, next, apperrors.ErrInvalidTransition)
	}
	return next, nil
}

type Order struct {
	ID              string      `db:"id" json:"id"`
	RestaurantID    string      `db:"restaurant_id" json:"restaurant_id"`
	ConversationID  *string     `db:"conversation_id" json:"conversation_id,omitempty"`
	CustomerPhone   string      `db:"customer_phone" json:"customer_phone"`
	CustomerName    string      `db:"customer_name" json:"customer_name"`
	DeliveryAddress string      `db:"delivery_address" json:"delivery_address"`
	DeliveryZoneID  *string     `db:"delivery_zone_id" json:"delivery_zone_id,omitempty"`
	PaymentMethodID *string     `db:"payment_method_id" json:"payment_method_id,omitempty"`
	Status          OrderStatus `db:"status" json:"status"`
	Subtotal        float64     `db:"subtotal" json:"subtotal"`
	DeliveryFee     float64     `db:"delivery_fee" json:"delivery_fee"`
	Total           float64     `db:"total" json:"total"`
	Notes           string      `db:"notes" json:"notes"`
	CreatedAt       time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time   `db:"updated_at" json:"updated_at"`
	Items           []OrderItem `db:"-" json:"items,omitempty"`
}

type OrderItem struct {
	ID            string  `db:"id" json:"id"`
	OrderID       string  `db:"order_id" json:"order_id"`
	ProductID     string  `db:"product_id" json:"product_id"`
	ProductName   string  `db:"product_name" json:"product_name"`
	Quantity      int     `db:"quantity" json:"quantity"`
	UnitPrice     float64 `db:"unit_price" json:"unit_price"`
	ModifierTotal float64 `db:"modifier_total" json:"modifier_total"`
	Notes         string  `db:"notes" json:"notes"`
}

func (i OrderItem) LineTotal() float64 {
	return float64(i.Quantity) * (i.UnitPrice + i.ModifierTotal)
}

// ComputeTotals fills Subtotal and Total from the items and delivery fee.
func (o *Order) ComputeTotals() {
	var subtotal float64
	for _, it := range o.Items {
		subtotal += it.LineTotal()
	}
	o.Subtotal = roundCents(subtotal)
	o.Total = roundCents(subtotal + o.DeliveryFee)
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
