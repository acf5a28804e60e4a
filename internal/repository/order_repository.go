package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"restobot/internal/apperrors"
	"restobot/internal/entities"
	"restobot/internal/interfaces"
)

type OrderRepository struct {
	db   *sqlx.DB
	feed interfaces.ChangePublisher
}

func NewOrderRepository(db *sqlx.DB, feed interfaces.ChangePublisher) *OrderRepository {
	return &OrderRepository{db: db, feed: feed}
}

// Create stores an order and its items in one transaction. Totals must
// already be computed.
func (r *OrderRepository) Create(ctx context.Context, order *entities.Order) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	items := order.Items
	if err := tx.GetContext(ctx, order, `
		INSERT INTO orders (restaurant_id, conversation_id, customer_phone, customer_name, delivery_address,
			delivery_zone_id, payment_method_id, status, subtotal, delivery_fee, total, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING *
	`, order.RestaurantID, order.ConversationID, order.CustomerPhone, order.CustomerName, order.DeliveryAddress,
		order.DeliveryZoneID, order.PaymentMethodID, entities.OrderPending, order.Subtotal, order.DeliveryFee,
		order.Total, order.Notes); err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i := range items {
		items[i].OrderID = order.ID
		if err := tx.GetContext(ctx, &items[i].ID, `
			INSERT INTO order_items (order_id, product_id, product_name, quantity, unit_price, modifier_total, notes)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id
		`, order.ID, items[i].ProductID, items[i].ProductName, items[i].Quantity, items[i].UnitPrice,
			items[i].ModifierTotal, items[i].Notes); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	order.Items = items
	publishChange(ctx, r.feed, "orders", entities.ChangeInsert, order.RestaurantID, order)
	return nil
}

// Get loads an order with its items.
func (r *OrderRepository) Get(ctx context.Context, restaurantID, id string) (*entities.Order, error) {
	var order entities.Order
	err := r.db.GetContext(ctx, &order, `SELECT * FROM orders WHERE id = $1 AND restaurant_id = $2`, id, restaurantID)
	if isNoRows(err) {
		return nil, apperrors.NotFound("OrderRepository.Get", "order")
	}
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	items := []entities.OrderItem{}
	if err := r.db.SelectContext(ctx, &items, `SELECT * FROM order_items WHERE order_id = $1 ORDER BY product_name`, id); err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	order.Items = items
	return &order, nil
}

// List returns orders newest first, optionally only those in the given status.
func (r *OrderRepository) List(ctx context.Context, restaurantID string, status entities.OrderStatus, limit, offset int) ([]entities.Order, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	orders := []entities.Order{}
	var err error
	if status == "" {
		err = r.db.SelectContext(ctx, &orders, `
			SELECT * FROM orders WHERE restaurant_id = $1
			ORDER BY created_at DESC LIMIT $2 OFFSET $3
		`, restaurantID, limit, offset)
	} else {
		err = r.db.SelectContext(ctx, &orders, `
			SELECT * FROM orders WHERE restaurant_id = $1 AND status = $2
			ORDER BY created_at DESC LIMIT $3 OFFSET $4
		`, restaurantID, status, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

// Board groups the restaurant's non-terminal orders and today's terminal ones
// by status for the kanban view. Every status has an entry.
func (r *OrderRepository) Board(ctx context.Context, restaurantID string) (map[entities.OrderStatus][]entities.Order, error) {
	orders := []entities.Order{}
	err := r.db.SelectContext(ctx, &orders, `
		SELECT * FROM orders
		WHERE restaurant_id = $1
		  AND (status NOT IN ('delivered', 'cancelled') OR created_at >= CURRENT_DATE)
		ORDER BY created_at ASC
	`, restaurantID)
	if err != nil {
		return nil, fmt.Errorf("load board: %w", err)
	}
	board := make(map[entities.OrderStatus][]entities.Order, len(entities.OrderStatuses))
	for _, s := range entities.OrderStatuses {
		board[s] = []entities.Order{}
	}
	for _, o := range orders {
		board[o.Status] = append(board[o.Status], o)
	}
	return board, nil
}

// UpdateStatus applies a lifecycle transition under a row lock.
func (r *OrderRepository) UpdateStatus(ctx context.Context, restaurantID, id string, next entities.OrderStatus) (*entities.Order, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var current entities.OrderStatus
	err = tx.GetContext(ctx, &current, `
		SELECT status FROM orders WHERE id = $1 AND restaurant_id = $2 FOR UPDATE
	`, id, restaurantID)
	if isNoRows(err) {
		return nil, apperrors.NotFound("OrderRepository.UpdateStatus", "order")
	}
	if err != nil {
		return nil, fmt.Errorf("lock order: %w", err)
	}
	if _, err := current.Transition(next); err != nil {
		return nil, err
	}

	var order entities.Order
	if err := tx.GetContext(ctx, &order, `
		UPDATE orders SET status = $2, updated_at = now() WHERE id = $1 RETURNING *
	`, id, next); err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	publishChange(ctx, r.feed, "orders", entities.ChangeUpdate, restaurantID, &order)
	return &order, nil
}
