package usecases

import (
	"context"
	"fmt"
	"strings"

	"restobot/internal/apperrors"
	"restobot/internal/entities"
)

type PriceSource interface {
	ProductsByID(ctx context.Context, restaurantID string, ids []string) (map[string]entities.Product, error)
	ModifiersByID(ctx context.Context, restaurantID string, ids []string) (map[string]entities.Modifier, error)
}

type ZoneSource interface {
	Get(ctx context.Context, restaurantID, id string) (*entities.DeliveryZone, error)
}

// ItemDraft is one requested order line. Prices come from the catalog, never
// from the caller.
type ItemDraft struct {
	ProductID   string   `json:"product_id" validate:"required"`
	Quantity    int      `json:"quantity" validate:"required,min=1,max=100"`
	ModifierIDs []string `json:"modifier_ids"`
	Notes       string   `json:"notes" validate:"max=500"`
}

type OrderDraft struct {
	ConversationID  *string     `json:"conversation_id"`
	CustomerPhone   string      `json:"customer_phone" validate:"required,max=32"`
	CustomerName    string      `json:"customer_name" validate:"max=120"`
	DeliveryAddress string      `json:"delivery_address" validate:"max=500"`
	DeliveryZoneID  *string     `json:"delivery_zone_id"`
	PaymentMethodID *string     `json:"payment_method_id"`
	Notes           string      `json:"notes" validate:"max=1000"`
	Items           []ItemDraft `json:"items" validate:"required,min=1,dive"`
}

type PricingCalculator struct {
	catalog PriceSource
	zones   ZoneSource
}

func NewPricingCalculator(catalog PriceSource, zones ZoneSource) *PricingCalculator {
	return &PricingCalculator{catalog: catalog, zones: zones}
}

// Price turns a draft into an unsaved order with server-side prices, the
// zone's delivery fee and computed totals.
func (pc *PricingCalculator) Price(ctx context.Context, restaurantID string, draft OrderDraft) (*entities.Order, error) {
	op := "PricingCalculator.Price"
	if len(draft.Items) == 0 {
		return nil, apperrors.Invalid(op, "order has no items")
	}

	var productIDs, modifierIDs []string
	for _, it := range draft.Items {
		if it.Quantity <= 0 {
			return nil, apperrors.Invalid(op, "quantity must be positive")
		}
		productIDs = append(productIDs, it.ProductID)
		modifierIDs = append(modifierIDs, it.ModifierIDs...)
	}

	products, err := pc.catalog.ProductsByID(ctx, restaurantID, productIDs)
	if err != nil {
		return nil, err
	}
	modifiers, err := pc.catalog.ModifiersByID(ctx, restaurantID, modifierIDs)
	if err != nil {
		return nil, err
	}

	order := &entities.Order{
		RestaurantID:    restaurantID,
		ConversationID:  draft.ConversationID,
		CustomerPhone:   strings.TrimSpace(draft.CustomerPhone),
		CustomerName:    strings.TrimSpace(draft.CustomerName),
		DeliveryAddress: strings.TrimSpace(draft.DeliveryAddress),
		DeliveryZoneID:  draft.DeliveryZoneID,
		PaymentMethodID: draft.PaymentMethodID,
		Status:          entities.OrderPending,
		Notes:           draft.Notes,
	}

	// same product requested twice draws on one stock figure
	wanted := map[string]int{}
	for _, it := range draft.Items {
		p, ok := products[it.ProductID]
		if !ok || !p.IsAvailable {
			return nil, apperrors.Invalid(op, fmt.Sprintf("product %s is not available", it.ProductID))
		}
		wanted[p.ID] += it.Quantity
		if wanted[p.ID] > p.Stock {
			return nil, apperrors.Invalid(op, fmt.Sprintf("only %d of %s in stock", p.Stock, p.Name))
		}

		var modTotal float64
		for _, id := range it.ModifierIDs {
			m, ok := modifiers[id]
			if !ok || (m.ProductID != nil && *m.ProductID != p.ID) {
				return nil, apperrors.Invalid(op, fmt.Sprintf("modifier %s does not apply to %s", id, p.Name))
			}
			modTotal += m.PriceDelta
		}

		order.Items = append(order.Items, entities.OrderItem{
			ProductID:     p.ID,
			ProductName:   p.Name,
			Quantity:      it.Quantity,
			UnitPrice:     p.Price,
			ModifierTotal: modTotal,
			Notes:         it.Notes,
		})
	}

	var minOrder float64
	if draft.DeliveryZoneID != nil && *draft.DeliveryZoneID != "" {
		zone, err := pc.zones.Get(ctx, restaurantID, *draft.DeliveryZoneID)
		if err != nil {
			return nil, err
		}
		if !zone.IsActive {
			return nil, apperrors.Invalid(op, fmt.Sprintf("delivery zone %s is not active", zone.Name))
		}
		order.DeliveryFee = zone.Fee
		minOrder = zone.MinOrder
	}

	order.ComputeTotals()
	if order.Subtotal < minOrder {
		return nil, apperrors.Invalid(op, fmt.Sprintf("minimum order for this zone is R$ %.2f", minOrder))
	}
	return order, nil
}
