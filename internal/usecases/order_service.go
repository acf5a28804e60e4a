package usecases

import (
	"context"

	"restobot/internal/entities"
	"restobot/internal/logger"
)

type OrderStore interface {
	Create(ctx context.Context, order *entities.Order) error
	Get(ctx context.Context, restaurantID, id string) (*entities.Order, error)
	List(ctx context.Context, restaurantID string, status entities.OrderStatus, limit, offset int) ([]entities.Order, error)
	Board(ctx context.Context, restaurantID string) (map[entities.OrderStatus][]entities.Order, error)
	UpdateStatus(ctx context.Context, restaurantID, id string, next entities.OrderStatus) (*entities.Order, error)
}

type OrderService struct {
	orders  OrderStore
	pricing *PricingCalculator
	log     logger.Logger
}

func NewOrderService(orders OrderStore, pricing *PricingCalculator, log logger.Logger) *OrderService {
	return &OrderService{orders: orders, pricing: pricing, log: log}
}

// Place prices the draft and stores it as a pending order.
func (s *OrderService) Place(ctx context.Context, restaurantID string, draft OrderDraft) (*entities.Order, error) {
	order, err := s.pricing.Price(ctx, restaurantID, draft)
	if err != nil {
		return nil, err
	}
	if err := s.orders.Create(ctx, order); err != nil {
		return nil, err
	}
	s.log.Info("order placed", map[string]interface{}{
		"restaurant_id": restaurantID,
		"order_id":      order.ID,
		"total":         order.Total,
	})
	return order, nil
}

func (s *OrderService) Get(ctx context.Context, restaurantID, id string) (*entities.Order, error) {
	return s.orders.Get(ctx, restaurantID, id)
}

func (s *OrderService) List(ctx context.Context, restaurantID string, status entities.OrderStatus, limit, offset int) ([]entities.Order, error) {
	return s.orders.List(ctx, restaurantID, status, limit, offset)
}

func (s *OrderService) Board(ctx context.Context, restaurantID string) (map[entities.OrderStatus][]entities.Order, error) {
	return s.orders.Board(ctx, restaurantID)
}

// Advance moves an order along its lifecycle.
func (s *OrderService) Advance(ctx context.Context, restaurantID, id string, next entities.OrderStatus) (*entities.Order, error) {
	order, err := s.orders.UpdateStatus(ctx, restaurantID, id, next)
	if err != nil {
		return nil, err
	}
	s.log.Info("order status changed", map[string]interface{}{
		"order_id": id,
		"status":   string(next),
	})
	return order, nil
}
