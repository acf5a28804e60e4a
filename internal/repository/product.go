package repository

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"restobot/internal/apperrors"
	"restobot/internal/entities"
	"restobot/internal/interfaces"
)

// CatalogRepository holds the restaurant's menu tables and the read paths
// the assistant uses to describe them.
type CatalogRepository struct {
	db   *sqlx.DB
	feed interfaces.ChangePublisher

	Categories     *Table[entities.Category]
	Products       *Table[entities.Product]
	Modifiers      *Table[entities.Modifier]
	PaymentMethods *Table[entities.PaymentMethod]
	DeliveryZones  *Table[entities.DeliveryZone]
	Promotions     *Table[entities.Promotion]
}

func NewCatalogRepository(db *sqlx.DB, feed interfaces.ChangePublisher) *CatalogRepository {
	return &CatalogRepository{
		db:   db,
		feed: feed,
		Categories: NewTable(db, "categories",
			[]string{"name", "description", "sort_order", "is_active"},
			func(c *entities.Category) string { return c.RestaurantID },
			WithDefaultOrder[entities.Category]("sort_order"), WithFeed[entities.Category](feed)),
		Products: NewTable(db, "products",
			[]string{"category_id", "name", "description", "price", "stock", "low_stock_threshold", "is_available"},
			func(p *entities.Product) string { return p.RestaurantID },
			WithDefaultOrder[entities.Product]("name"), WithSoftDelete[entities.Product]("is_available"),
			WithFeed[entities.Product](feed)),
		Modifiers: NewTable(db, "modifiers",
			[]string{"product_id", "name", "price_delta", "is_active"},
			func(m *entities.Modifier) string { return m.RestaurantID },
			WithDefaultOrder[entities.Modifier]("name"), WithFeed[entities.Modifier](feed)),
		PaymentMethods: NewTable(db, "payment_methods",
			[]string{"name", "instructions", "is_active"},
			func(p *entities.PaymentMethod) string { return p.RestaurantID },
			WithDefaultOrder[entities.PaymentMethod]("name"), WithFeed[entities.PaymentMethod](feed)),
		DeliveryZones: NewTable(db, "delivery_zones",
			[]string{"name", "fee", "min_order", "estimated_minutes", "neighborhoods", "is_active"},
			func(z *entities.DeliveryZone) string { return z.RestaurantID },
			WithDefaultOrder[entities.DeliveryZone]("name"), WithFeed[entities.DeliveryZone](feed)),
		Promotions: NewTable(db, "promotions",
			[]string{"title", "description", "discount_percent", "valid_until", "is_active"},
			func(p *entities.Promotion) string { return p.RestaurantID },
			WithFeed[entities.Promotion](feed)),
	}
}

// Inventory returns every available product with its stock figures.
func (r *CatalogRepository) Inventory(ctx context.Context, restaurantID string) ([]entities.Product, error) {
	products := []entities.Product{}
	err := r.db.SelectContext(ctx, &products, `
		SELECT * FROM products
		WHERE restaurant_id = $1 AND is_available
		ORDER BY name ASC
	`, restaurantID)
	if err != nil {
		return nil, fmt.Errorf("load inventory: %w", err)
	}
	return products, nil
}

func (r *CatalogRepository) RunningPromotions(ctx context.Context, restaurantID string, now time.Time) ([]entities.Promotion, error) {
	promos := []entities.Promotion{}
	err := r.db.SelectContext(ctx, &promos, `
		SELECT * FROM promotions
		WHERE restaurant_id = $1 AND is_active AND (valid_until IS NULL OR valid_until > $2)
		ORDER BY created_at DESC
	`, restaurantID, now)
	if err != nil {
		return nil, fmt.Errorf("load promotions: %w", err)
	}
	return promos, nil
}

// DeactivateExpiredPromotions switches off promotions whose validity ended.
func (r *CatalogRepository) DeactivateExpiredPromotions(ctx context.Context, now time.Time) (int64, error) {
	var expired []entities.Promotion
	err := r.db.SelectContext(ctx, &expired, `
		UPDATE promotions SET is_active = false, updated_at = now()
		WHERE is_active AND valid_until IS NOT NULL AND valid_until <= $1
		RETURNING *
	`, now)
	if err != nil {
		return 0, fmt.Errorf("expire promotions: %w", err)
	}
	for i := range expired {
		publishChange(ctx, r.feed, "promotions", entities.ChangeUpdate, expired[i].RestaurantID, &expired[i])
	}
	return int64(len(expired)), nil
}

// ProductsByID loads products of one restaurant keyed by id.
func (r *CatalogRepository) ProductsByID(ctx context.Context, restaurantID string, ids []string) (map[string]entities.Product, error) {
	out := make(map[string]entities.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(`SELECT * FROM products WHERE restaurant_id = ? AND id IN (?)`, restaurantID, ids)
	if err != nil {
		return nil, err
	}
	var products []entities.Product
	if err := r.db.SelectContext(ctx, &products, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}
	for _, p := range products {
		out[p.ID] = p
	}
	return out, nil
}

// ModifiersByID loads active modifiers of one restaurant keyed by id.
func (r *CatalogRepository) ModifiersByID(ctx context.Context, restaurantID string, ids []string) (map[string]entities.Modifier, error) {
	out := make(map[string]entities.Modifier, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(`SELECT * FROM modifiers WHERE restaurant_id = ? AND is_active AND id IN (?)`, restaurantID, ids)
	if err != nil {
		return nil, err
	}
	var mods []entities.Modifier
	if err := r.db.SelectContext(ctx, &mods, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("load modifiers: %w", err)
	}
	for _, m := range mods {
		out[m.ID] = m
	}
	return out, nil
}

// ImportReport summarises a CSV import.
type ImportReport struct {
	Created int      `json:"created"`
	Updated int      `json:"updated"`
	Skipped []string `json:"skipped,omitempty"`
}

var productCSVHeaders = []string{"name", "description", "price", "stock", "low_stock_threshold", "category"}

// ImportProductsCSV upserts products by name from a CSV with the header
// name,description,price,stock,low_stock_threshold,category. Unknown
// categories are created. The whole file is applied in one transaction.
func (r *CatalogRepository) ImportProductsCSV(ctx context.Context, restaurantID string, data io.Reader) (*ImportReport, error) {
	op := "CatalogRepository.ImportProductsCSV"
	reader := csv.NewReader(data)
	reader.TrimLeadingSpace = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, apperrors.E(apperrors.CodeInvalidArgument, op, "failed to read CSV", err)
	}
	if len(rows) < 2 {
		return nil, apperrors.Invalid(op, "csv has no data rows")
	}

	index := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		index[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, h := range productCSVHeaders[:3] {
		if _, ok := index[h]; !ok {
			return nil, apperrors.Invalid(op, "missing column "+h)
		}
	}
	field := func(row []string, name string) string {
		i, ok := index[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin import: %w", err)
	}
	defer tx.Rollback()

	report := &ImportReport{}
	categoryIDs := map[string]string{}

	for n, row := range rows[1:] {
		line := n + 2
		name := field(row, "name")
		price, perr := strconv.ParseFloat(strings.ReplaceAll(field(row, "price"), ",", "."), 64)
		if name == "" || perr != nil {
			report.Skipped = append(report.Skipped, fmt.Sprintf("line %d: name and numeric price required", line))
			continue
		}
		stock, _ := strconv.Atoi(field(row, "stock"))
		threshold, terr := strconv.Atoi(field(row, "low_stock_threshold"))
		if terr != nil {
			threshold = 5
		}

		var categoryID *string
		if cat := field(row, "category"); cat != "" {
			id, ok := categoryIDs[strings.ToLower(cat)]
			if !ok {
				id, err = upsertCategory(ctx, tx, restaurantID, cat)
				if err != nil {
					return nil, fmt.Errorf("line %d category: %w", line, err)
				}
				categoryIDs[strings.ToLower(cat)] = id
			}
			categoryID = &id
		}

		var inserted bool
		err := tx.QueryRowxContext(ctx, `
			WITH updated AS (
				UPDATE products SET description = $3, price = $4, stock = $5, low_stock_threshold = $6,
					category_id = COALESCE($7, category_id), is_available = true, updated_at = now()
				WHERE restaurant_id = $1 AND lower(name) = lower($2)
				RETURNING id
			)
			INSERT INTO products (restaurant_id, name, description, price, stock, low_stock_threshold, category_id)
			SELECT $1, $2, $3, $4, $5, $6, $7 WHERE NOT EXISTS (SELECT 1 FROM updated)
			RETURNING true
		`, restaurantID, name, field(row, "description"), price, stock, threshold, categoryID).Scan(&inserted)
		switch {
		case err == nil:
			report.Created++
		case isNoRows(err):
			report.Updated++
		default:
			return nil, fmt.Errorf("line %d insert failed: %w", line, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit import: %w", err)
	}
	publishChange(ctx, r.feed, "products", entities.ChangeUpdate, restaurantID,
		map[string]interface{}{"imported": report.Created + report.Updated})
	return report, nil
}

func upsertCategory(ctx context.Context, tx *sqlx.Tx, restaurantID, name string) (string, error) {
	var id string
	err := tx.GetContext(ctx, &id, `
		SELECT id FROM categories WHERE restaurant_id = $1 AND lower(name) = lower($2) LIMIT 1
	`, restaurantID, name)
	if err == nil {
		return id, nil
	}
	if !isNoRows(err) {
		return "", err
	}
	err = tx.GetContext(ctx, &id, `
		INSERT INTO categories (restaurant_id, name) VALUES ($1, $2) RETURNING id
	`, restaurantID, name)
	return id, err
}
