package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"restobot/internal/apperrors"
	"restobot/internal/entities"
	"restobot/internal/interfaces"
)

const (
	defaultPageSize = 100
	maxPageSize     = 500
)

// ListOptions narrows a table listing. Filters are equality matches on
// whitelisted columns.
type ListOptions struct {
	Filters map[string]string
	OrderBy string
	Desc    bool
	Limit   int
	Offset  int
}

// Table is a restaurant-scoped CRUD store for one dashboard table. Column
// names are fixed at construction; request input only selects among them.
type Table[T any] struct {
	db           *sqlx.DB
	name         string
	columns      []string
	known        map[string]bool
	defaultOrder string
	softDelete   string
	scope        func(*T) string
	feed         interfaces.ChangePublisher
}

type TableOption[T any] func(*Table[T])

// WithSoftDelete makes Delete clear a boolean column instead of removing the row.
func WithSoftDelete[T any](column string) TableOption[T] {
	return func(t *Table[T]) { t.softDelete = column }
}

func WithDefaultOrder[T any](column string) TableOption[T] {
	return func(t *Table[T]) { t.defaultOrder = column }
}

func WithFeed[T any](feed interfaces.ChangePublisher) TableOption[T] {
	return func(t *Table[T]) { t.feed = feed }
}

func NewTable[T any](db *sqlx.DB, name string, columns []string, scope func(*T) string, opts ...TableOption[T]) *Table[T] {
	t := &Table[T]{
		db:           db,
		name:         name,
		columns:      columns,
		known:        map[string]bool{"id": true, "created_at": true, "updated_at": true},
		defaultOrder: "created_at",
		scope:        scope,
	}
	for _, c := range columns {
		t.known[c] = true
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Table[T]) Name() string { return t.name }

func (t *Table[T]) List(ctx context.Context, restaurantID string, opts ListOptions) ([]T, error) {
	op := "Table.List"
	query := fmt.Sprintf("SELECT * FROM %s WHERE restaurant_id = $1", t.name)
	args := []interface{}{restaurantID}

	keys := make([]string, 0, len(opts.Filters))
	for k := range opts.Filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, col := range keys {
		if !t.known[col] {
			return nil, apperrors.Invalid(op, fmt.Sprintf("unknown filter %q for %s", col, t.name))
		}
		args = append(args, opts.Filters[col])
		query += fmt.Sprintf(" AND %s = $%d", col, len(args))
	}

	order := t.defaultOrder
	if opts.OrderBy != "" {
		if !t.known[opts.OrderBy] {
			return nil, apperrors.Invalid(op, fmt.Sprintf("unknown order column %q for %s", opts.OrderBy, t.name))
		}
		order = opts.OrderBy
	}
	dir := "ASC"
	if opts.Desc {
		dir = "DESC"
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	query += fmt.Sprintf(" ORDER BY %s %s LIMIT %d OFFSET %d", order, dir, limit, offset)

	rows := []T{}
	if err := t.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list %s: %w", t.name, err)
	}
	return rows, nil
}

func (t *Table[T]) Get(ctx context.Context, restaurantID, id string) (*T, error) {
	var row T
	query := fmt.Sprintf("SELECT * FROM %s WHERE id = $1 AND restaurant_id = $2", t.name)
	if err := t.db.GetContext(ctx, &row, query, id, restaurantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("Table.Get", strings.TrimSuffix(t.name, "s"))
		}
		return nil, fmt.Errorf("get %s: %w", t.name, err)
	}
	return &row, nil
}

// Create inserts row and refreshes it with database defaults.
func (t *Table[T]) Create(ctx context.Context, row *T) error {
	cols := append([]string{"restaurant_id"}, t.columns...)
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (:%s) RETURNING *",
		t.name, strings.Join(cols, ", "), strings.Join(cols, ", :"))

	if err := t.namedReturning(ctx, query, row); err != nil {
		return fmt.Errorf("create %s: %w", t.name, err)
	}
	t.publish(ctx, entities.ChangeInsert, t.scope(row), row)
	return nil
}

// Update writes every configured column of row, matched on id and restaurant.
func (t *Table[T]) Update(ctx context.Context, row *T) error {
	sets := make([]string, 0, len(t.columns)+1)
	for _, c := range t.columns {
		sets = append(sets, fmt.Sprintf("%s = :%s", c, c))
	}
	sets = append(sets, "updated_at = now()")
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = :id AND restaurant_id = :restaurant_id RETURNING *",
		t.name, strings.Join(sets, ", "))

	if err := t.namedReturning(ctx, query, row); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.NotFound("Table.Update", strings.TrimSuffix(t.name, "s"))
		}
		return fmt.Errorf("update %s: %w", t.name, err)
	}
	t.publish(ctx, entities.ChangeUpdate, t.scope(row), row)
	return nil
}

func (t *Table[T]) Delete(ctx context.Context, restaurantID, id string) error {
	var query string
	if t.softDelete != "" {
		query = fmt.Sprintf("UPDATE %s SET %s = false, updated_at = now() WHERE id = $1 AND restaurant_id = $2", t.name, t.softDelete)
	} else {
		query = fmt.Sprintf("DELETE FROM %s WHERE id = $1 AND restaurant_id = $2", t.name)
	}

	res, err := t.db.ExecContext(ctx, query, id, restaurantID)
	if err != nil {
		return fmt.Errorf("delete %s: %w", t.name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s: %w", t.name, err)
	}
	if n == 0 {
		return apperrors.NotFound("Table.Delete", strings.TrimSuffix(t.name, "s"))
	}

	kind := entities.ChangeDelete
	if t.softDelete != "" {
		kind = entities.ChangeUpdate
	}
	t.publish(ctx, kind, restaurantID, map[string]interface{}{"id": id})
	return nil
}

func (t *Table[T]) namedReturning(ctx context.Context, query string, row *T) error {
	rows, err := sqlx.NamedQueryContext(ctx, t.db, query, row)
	if err != nil {
		return err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return err
		}
		return sql.ErrNoRows
	}
	return rows.StructScan(row)
}

func (t *Table[T]) publish(ctx context.Context, kind entities.ChangeType, restaurantID string, record interface{}) {
	publishChange(ctx, t.feed, t.name, kind, restaurantID, record)
}

// publishChange is best-effort; a missing or failing feed never fails a write.
func publishChange(ctx context.Context, feed interfaces.ChangePublisher, table string, kind entities.ChangeType, restaurantID string, record interface{}) {
	if feed == nil || restaurantID == "" {
		return
	}
	_ = feed.Publish(ctx, entities.ChangeEvent{
		Table:        table,
		Type:         kind,
		RestaurantID: restaurantID,
		Record:       record,
		At:           time.Now().UTC(),
	})
}
