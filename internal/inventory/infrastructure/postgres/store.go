package postgres

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/commercekit/orderflow/internal/inventory/application"
	"github.com/commercekit/orderflow/internal/inventory/domain"
)

// Store persists stock records. Reserve serializes conflicting batches
// by row-locking every requested product inside one transaction, so two
// overlapping batches can never jointly overcommit effective stock.
type Store struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewStore(log *slog.Logger, pool *pgxpool.Pool) *Store {
	return &Store{log: log, pool: pool}
}

// Migrate creates the product_stock table. Stock rows themselves are
// seeded externally; the saga never creates or destroys them.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS product_stock (
		product_id      TEXT PRIMARY KEY,
		available_stock INT NOT NULL CHECK (available_stock >= 0),
		reserved_stock  INT NOT NULL CHECK (reserved_stock >= 0 AND reserved_stock <= available_stock),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	return err
}

func (s *Store) Reserve(ctx context.Context, items []domain.ItemRequest) (domain.Reservation, error) {
	// A duplicated product line must be checked against its combined
	// demand, not pass two independent checks on one snapshot.
	items = domain.AggregateItems(items)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Reservation{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	// Lock rows in a stable order so overlapping batches cannot deadlock.
	lockOrder := make([]string, 0, len(items))
	for _, it := range items {
		lockOrder = append(lockOrder, it.ProductID)
	}
	sort.Strings(lockOrder)

	records := make(map[string]*domain.StockRecord, len(items))
	for _, productID := range lockOrder {
		if _, seen := records[productID]; seen {
			continue
		}
		var rec domain.StockRecord
		err := tx.QueryRow(ctx, `SELECT product_id, available_stock, reserved_stock, updated_at
			FROM product_stock WHERE product_id=$1 FOR UPDATE`, productID).
			Scan(&rec.ProductID, &rec.AvailableStock, &rec.ReservedStock, &rec.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			records[productID] = nil
			continue
		}
		if err != nil {
			return domain.Reservation{}, err
		}
		records[productID] = &rec
	}

	// Checks in input order; the rejection reason depends on it.
	checks := make([]domain.Check, 0, len(items))
	allOK := true
	for _, it := range items {
		c := domain.Evaluate(records[it.ProductID], it.ProductID, it.Quantity)
		if !c.OK {
			allOK = false
		}
		checks = append(checks, c)
	}
	if !allOK {
		// All-or-nothing: the deferred rollback leaves every counter untouched.
		return domain.Reservation{Reserved: false, Checks: checks}, nil
	}

	for _, it := range items {
		_, err := tx.Exec(ctx, `UPDATE product_stock
			SET reserved_stock = reserved_stock + $2, updated_at = now()
			WHERE product_id = $1`, it.ProductID, it.Quantity)
		if err != nil {
			return domain.Reservation{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Reservation{}, err
	}
	return domain.Reservation{Reserved: true, Checks: checks}, nil
}

func (s *Store) Get(ctx context.Context, productID string) (domain.StockRecord, error) {
	var rec domain.StockRecord
	err := s.pool.QueryRow(ctx, `SELECT product_id, available_stock, reserved_stock, updated_at
		FROM product_stock WHERE product_id=$1`, productID).
		Scan(&rec.ProductID, &rec.AvailableStock, &rec.ReservedStock, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.StockRecord{}, application.ErrProductNotFound
	}
	if err != nil {
		return domain.StockRecord{}, err
	}
	return rec, nil
}

func (s *Store) List(ctx context.Context) ([]domain.StockRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT product_id, available_stock, reserved_stock, updated_at
		FROM product_stock ORDER BY product_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []domain.StockRecord
	for rows.Next() {
		var rec domain.StockRecord
		if err := rows.Scan(&rec.ProductID, &rec.AvailableStock, &rec.ReservedStock, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
