package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/farm-ledger/internal/model"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const (
	itemColumns = `id, sku, name, category, unit, default_supplier_ref, reorder_threshold,
		min_stock, current_quantity, active, created_at, updated_at`
	batchColumns = `id, item_id, batch_number, quantity_received, remaining_quantity, unit_cost,
		purchase_date, expiry_date, supplier_ref, po_ref, active, created_at, updated_at`
	transactionColumns = `id, item_id, batch_id, type, quantity, balance_after, unit_cost, total_cost,
		module, reference, session_id, note, allocations, actor, created_at`
	reservationColumns = `id, item_id, quantity, module, reference, status, expires_at,
		transaction_id, actor, resolved_at, created_at, updated_at`
	adjustmentColumns = `id, item_id, kind, quantity, previous_balance, new_balance, reason,
		transaction_id, batch_id, actor, created_at`
)

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx.
type queryer interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
}

// PostgresStore keeps the ledger in PostgreSQL. Row locks are taken with
// SELECT ... FOR UPDATE and held until the unit of work commits.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return translate(err)
	}
	defer tx.Rollback()

	if err := fn(&pgTx{pgReader{q: tx}}); err != nil {
		return err
	}
	return translate(tx.Commit())
}

func (s *PostgresStore) View(ctx context.Context, fn func(r Reader) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return translate(err)
	}
	defer tx.Rollback()

	if err := fn(pgReader{q: tx}); err != nil {
		return err
	}
	return translate(tx.Commit())
}

// translate maps driver errors onto the store sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s", ErrDuplicate, pqErr.Detail)
		case "40001", "40P01", "55P03": // serialization_failure, deadlock_detected, lock_not_available
			return fmt.Errorf("%w: %s", ErrConflict, pqErr.Message)
		}
	}
	return err
}

// ============================================
// Reads
// ============================================

type pgReader struct {
	q queryer
}

func (r pgReader) getItem(ctx context.Context, query string, arg interface{}) (*model.Item, error) {
	var item model.Item
	if err := r.q.GetContext(ctx, &item, query, arg); err != nil {
		return nil, translate(err)
	}
	return &item, nil
}

func (r pgReader) GetItem(ctx context.Context, id model.ID) (*model.Item, error) {
	return r.getItem(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE id = $1`, id)
}

func (r pgReader) GetItemBySKU(ctx context.Context, sku string) (*model.Item, error) {
	return r.getItem(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE upper(sku) = upper($1)`, sku)
}

func (r pgReader) ListItems(ctx context.Context, f ItemFilter) ([]model.Item, error) {
	var where []string
	if f.ActiveOnly {
		where = append(where, "active")
	}
	if f.BelowReorder {
		where = append(where, "active AND current_quantity < reorder_threshold")
	}

	query := `SELECT ` + itemColumns + ` FROM inventory_items`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY sku"
	query += pageClause(f.Page, f.PageSize)

	items := []model.Item{}
	if err := r.q.SelectContext(ctx, &items, query); err != nil {
		return nil, translate(err)
	}
	return items, nil
}

func (r pgReader) ActiveBatches(ctx context.Context, itemID model.ID) ([]model.Batch, error) {
	return r.selectBatches(ctx, `SELECT `+batchColumns+` FROM inventory_batches
		WHERE item_id = $1 AND active AND remaining_quantity > 0
		ORDER BY purchase_date, id`, itemID)
}

func (r pgReader) ExpiringBatches(ctx context.Context, before time.Time) ([]model.Batch, error) {
	return r.selectBatches(ctx, `SELECT `+batchColumns+` FROM inventory_batches
		WHERE active AND remaining_quantity > 0 AND expiry_date IS NOT NULL AND expiry_date <= $1
		ORDER BY expiry_date, id`, before)
}

func (r pgReader) selectBatches(ctx context.Context, query string, args ...interface{}) ([]model.Batch, error) {
	var batches []model.Batch
	if err := r.q.SelectContext(ctx, &batches, query, args...); err != nil {
		return nil, translate(err)
	}
	return batches, nil
}

func (r pgReader) SumActiveRemaining(ctx context.Context, itemID model.ID) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.q.GetContext(ctx, &total,
		`SELECT COALESCE(SUM(remaining_quantity), 0) FROM inventory_batches WHERE item_id = $1 AND active`,
		itemID)
	return total, translate(err)
}

func (r pgReader) ListTransactions(ctx context.Context, f model.TransactionFilter) ([]model.Transaction, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.ItemID != nil {
		add("item_id = $%d", *f.ItemID)
	}
	if f.Type != "" {
		add("type = $%d", string(f.Type))
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at < $%d", *f.To)
	}
	if f.Before != nil {
		args = append(args, f.Before.CreatedAt, f.Before.ID)
		where = append(where, fmt.Sprintf("(created_at, id) < ($%d, $%d)", len(args)-1, len(args)))
	}

	query := `SELECT ` + transactionColumns + ` FROM inventory_transactions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	query += pageClause(f.Page, f.PageSize)

	txs := []model.Transaction{}
	if err := r.q.SelectContext(ctx, &txs, query, args...); err != nil {
		return nil, translate(err)
	}
	return txs, nil
}

func (r pgReader) GetReservation(ctx context.Context, id model.ID) (*model.Reservation, error) {
	var res model.Reservation
	err := r.q.GetContext(ctx, &res, `SELECT `+reservationColumns+` FROM inventory_reservations WHERE id = $1`, id)
	if err != nil {
		return nil, translate(err)
	}
	return &res, nil
}

func (r pgReader) SumHoldingReservations(ctx context.Context, itemID model.ID, now time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.q.GetContext(ctx, &total,
		`SELECT COALESCE(SUM(quantity), 0) FROM inventory_reservations
		 WHERE item_id = $1 AND status = 'pending' AND expires_at > $2`,
		itemID, now)
	return total, translate(err)
}

func (r pgReader) CountPendingReservations(ctx context.Context, itemID model.ID) (int, error) {
	var n int
	err := r.q.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM inventory_reservations WHERE item_id = $1 AND status = 'pending'`, itemID)
	return n, translate(err)
}

func (r pgReader) ListExpiredReservations(ctx context.Context, now time.Time, limit int) ([]model.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM inventory_reservations
		WHERE status = 'pending' AND expires_at <= $1
		ORDER BY expires_at, id`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	var out []model.Reservation
	if err := r.q.SelectContext(ctx, &out, query, now); err != nil {
		return nil, translate(err)
	}
	return out, nil
}

func (r pgReader) ListAdjustments(ctx context.Context, itemID model.ID) ([]model.Adjustment, error) {
	var out []model.Adjustment
	err := r.q.SelectContext(ctx, &out,
		`SELECT `+adjustmentColumns+` FROM inventory_adjustments WHERE item_id = $1 ORDER BY id`, itemID)
	if err != nil {
		return nil, translate(err)
	}
	return out, nil
}

// ============================================
// Writes
// ============================================

type pgTx struct {
	pgReader
}

func (t *pgTx) LockItem(ctx context.Context, id model.ID) (*model.Item, error) {
	return t.getItem(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE id = $1 FOR UPDATE`, id)
}

func (t *pgTx) LockBatches(ctx context.Context, itemID model.ID) ([]model.Batch, error) {
	return t.selectBatches(ctx, `SELECT `+batchColumns+` FROM inventory_batches
		WHERE item_id = $1 AND active AND remaining_quantity > 0
		ORDER BY purchase_date, id
		FOR UPDATE`, itemID)
}

func (t *pgTx) LockReservation(ctx context.Context, id model.ID) (*model.Reservation, error) {
	var res model.Reservation
	err := t.q.GetContext(ctx, &res,
		`SELECT `+reservationColumns+` FROM inventory_reservations WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, translate(err)
	}
	return &res, nil
}

func (t *pgTx) InsertItem(ctx context.Context, item *model.Item) error {
	_, err := t.q.NamedExecContext(ctx, `INSERT INTO inventory_items (`+itemColumns+`)
		VALUES (:id, :sku, :name, :category, :unit, :default_supplier_ref, :reorder_threshold,
			:min_stock, :current_quantity, :active, :created_at, :updated_at)`, item)
	return translate(err)
}

func (t *pgTx) UpdateItem(ctx context.Context, item *model.Item) error {
	res, err := t.q.NamedExecContext(ctx, `UPDATE inventory_items SET
			name = :name, category = :category, unit = :unit,
			default_supplier_ref = :default_supplier_ref,
			reorder_threshold = :reorder_threshold, min_stock = :min_stock,
			current_quantity = :current_quantity, active = :active, updated_at = :updated_at
		WHERE id = :id`, item)
	return expectRow(res, err)
}

func (t *pgTx) InsertBatch(ctx context.Context, batch *model.Batch) error {
	_, err := t.q.NamedExecContext(ctx, `INSERT INTO inventory_batches (`+batchColumns+`)
		VALUES (:id, :item_id, :batch_number, :quantity_received, :remaining_quantity, :unit_cost,
			:purchase_date, :expiry_date, :supplier_ref, :po_ref, :active, :created_at, :updated_at)`, batch)
	return translate(err)
}

func (t *pgTx) UpdateBatchRemaining(ctx context.Context, id model.ID, remaining decimal.Decimal, at time.Time) error {
	res, err := t.q.ExecContext(ctx,
		`UPDATE inventory_batches SET remaining_quantity = $2, updated_at = $3 WHERE id = $1`,
		id, remaining, at)
	return expectRow(res, err)
}

func (t *pgTx) InsertTransaction(ctx context.Context, tr *model.Transaction) error {
	_, err := t.q.NamedExecContext(ctx, `INSERT INTO inventory_transactions (`+transactionColumns+`)
		VALUES (:id, :item_id, :batch_id, :type, :quantity, :balance_after, :unit_cost, :total_cost,
			:module, :reference, :session_id, :note, :allocations, :actor, :created_at)`, tr)
	return translate(err)
}

func (t *pgTx) InsertReservation(ctx context.Context, r *model.Reservation) error {
	_, err := t.q.NamedExecContext(ctx, `INSERT INTO inventory_reservations (`+reservationColumns+`)
		VALUES (:id, :item_id, :quantity, :module, :reference, :status, :expires_at,
			:transaction_id, :actor, :resolved_at, :created_at, :updated_at)`, r)
	return translate(err)
}

func (t *pgTx) UpdateReservation(ctx context.Context, r *model.Reservation) error {
	res, err := t.q.NamedExecContext(ctx, `UPDATE inventory_reservations SET
			status = :status, transaction_id = :transaction_id,
			resolved_at = :resolved_at, updated_at = :updated_at
		WHERE id = :id`, r)
	return expectRow(res, err)
}

func (t *pgTx) InsertAdjustment(ctx context.Context, a *model.Adjustment) error {
	_, err := t.q.NamedExecContext(ctx, `INSERT INTO inventory_adjustments (`+adjustmentColumns+`)
		VALUES (:id, :item_id, :kind, :quantity, :previous_balance, :new_balance, :reason,
			:transaction_id, :batch_id, :actor, :created_at)`, a)
	return translate(err)
}

// ============================================
// Helpers
// ============================================

func expectRow(res sql.Result, err error) error {
	if err != nil {
		return translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func pageClause(page, pageSize int) string {
	if pageSize <= 0 {
		return ""
	}
	if page < 1 {
		page = 1
	}
	return fmt.Sprintf(" LIMIT %d OFFSET %d", pageSize, (page-1)*pageSize)
}

// PoolConfig sizes the connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// ConnectPostgres opens and pings a PostgreSQL connection pool.
func ConnectPostgres(ctx context.Context, dsn string, pool PoolConfig) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}

	return db, nil
}
