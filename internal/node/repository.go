package node

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

// Repository defines the persistence operations on node records.
type Repository interface {
	// GetByAddress returns the record holding addr. When several records
	// share an address the active one wins, then the most recently seen.
	// Returns ErrNodeNotFound if none does.
	GetByAddress(ctx context.Context, addr Address) (*Node, error)

	// GetByIdentity returns the record for an exact identity triple.
	// Returns ErrNodeNotFound if none exists.
	GetByIdentity(ctx context.Context, id Identity) (*Node, error)

	// Find returns a page of records matching q.
	Find(ctx context.Context, q Query) ([]Node, error)

	// Create inserts a record and sets its ID.
	// Returns ErrNodeExists if the identity is already registered.
	Create(ctx context.Context, n *Node) error

	// Update overwrites every field of an existing record.
	// Returns ErrNodeNotFound if the record does not exist.
	Update(ctx context.Context, n *Node) error

	// Delete removes a record by ID.
	// Returns ErrNodeNotFound if the record does not exist.
	Delete(ctx context.Context, id int64) error

	// NextAddress issues an address that has never been issued before and
	// is not held by any record.
	NextAddress(ctx context.Context) (Address, error)
}

// Store is a Repository that can group operations into one transaction.
type Store interface {
	Repository

	// Atomic runs fn against a transaction-bound Repository. The
	// transaction commits if fn returns nil and rolls back otherwise.
	Atomic(ctx context.Context, fn func(tx Repository) error) error
}

// querier is the subset of *sql.DB and *sql.Tx the repository uses.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteRepository implements Store using SQLite.
type SQLiteRepository struct {
	db           *sql.DB
	q            querier
	inTx         bool
	firstAddress Address
}

// NewSQLiteRepository creates a SQLite-backed repository.
//
// Parameters:
//   - db: Open SQLite connection with the nodes schema applied
//   - firstAddress: Address the allocator starts from on an empty registry
//
// Returns:
//   - *SQLiteRepository: Ready-to-use repository
func NewSQLiteRepository(db *sql.DB, firstAddress Address) *SQLiteRepository {
	return &SQLiteRepository{db: db, q: db, firstAddress: firstAddress}
}

const selectColumns = `
	SELECT id, name, manufacturer_id, product_id, unit_id, address, engine_address,
		services, active, parent_manufacturer_id, parent_product_id, parent_unit_id,
		first_seen, last_seen, address_requests, needs_refresh, pending_name_write
	FROM nodes`

// Atomic runs fn inside a transaction. Nested calls reuse the outer one.
func (r *SQLiteRepository) Atomic(ctx context.Context, fn func(tx Repository) error) error {
	if r.inTx {
		return fn(r)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	txRepo := &SQLiteRepository{db: r.db, q: tx, inTx: true, firstAddress: r.firstAddress}
	if err := fn(txRepo); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// GetByAddress retrieves the record holding addr.
func (r *SQLiteRepository) GetByAddress(ctx context.Context, addr Address) (*Node, error) {
	query := selectColumns + `
		WHERE address = ?
		ORDER BY active DESC, last_seen DESC, id DESC
		LIMIT 1`

	n, err := scanNode(r.q.QueryRowContext(ctx, query, int64(addr)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNodeNotFound
		}
		return nil, fmt.Errorf("querying node by address: %w", err)
	}
	return n, nil
}

// GetByIdentity retrieves the record for an identity.
func (r *SQLiteRepository) GetByIdentity(ctx context.Context, id Identity) (*Node, error) {
	query := selectColumns + `
		WHERE manufacturer_id = ? AND product_id = ? AND unit_id = ?`

	n, err := scanNode(r.q.QueryRowContext(ctx, query, id.Manufacturer, id.Product, id.Unit))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNodeNotFound
		}
		return nil, fmt.Errorf("querying node by identity: %w", err)
	}
	return n, nil
}

// Find retrieves a filtered, ordered page of records.
func (r *SQLiteRepository) Find(ctx context.Context, q Query) ([]Node, error) {
	where, args := q.Filter.where()
	orderBy, err := q.Order.orderBy()
	if err != nil {
		return nil, err
	}

	limit := q.Limit
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	offset := max(q.Offset, 0)

	query := selectColumns + where + orderBy + " LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying nodes: %w", err)
	}
	defer rows.Close()

	nodes := make([]Node, 0)
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning node: %w", err)
		}
		nodes = append(nodes, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating nodes: %w", err)
	}
	return nodes, nil
}

// Create inserts a new record.
func (r *SQLiteRepository) Create(ctx context.Context, n *Node) error {
	if err := ValidateName(n.Name); err != nil {
		return err
	}

	now := time.Now().UTC()
	if n.FirstSeen.IsZero() {
		n.FirstSeen = now
	}
	if n.LastSeen.IsZero() {
		n.LastSeen = n.FirstSeen
	}

	query := `
		INSERT INTO nodes (
			name, manufacturer_id, product_id, unit_id, address, engine_address,
			services, active, parent_manufacturer_id, parent_product_id, parent_unit_id,
			first_seen, last_seen, address_requests, needs_refresh, pending_name_write
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.q.ExecContext(ctx, query,
		n.Name,
		n.Identity.Manufacturer,
		n.Identity.Product,
		n.Identity.Unit,
		int64(n.Address),
		int64(n.EngineAddress),
		int64(n.Services),
		boolToInt(n.Active),
		n.Parent.Manufacturer,
		n.Parent.Product,
		n.Parent.Unit,
		formatTime(n.FirstSeen),
		formatTime(n.LastSeen),
		n.AddressRequests,
		boolToInt(n.NeedsRefresh),
		boolToInt(n.PendingNameWrite),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrNodeExists, n.Identity)
		}
		return fmt.Errorf("inserting node: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading node id: %w", err)
	}
	n.ID = id
	return nil
}

// Update overwrites an existing record.
func (r *SQLiteRepository) Update(ctx context.Context, n *Node) error {
	if err := ValidateName(n.Name); err != nil {
		return err
	}

	query := `
		UPDATE nodes SET
			name = ?, manufacturer_id = ?, product_id = ?, unit_id = ?,
			address = ?, engine_address = ?, services = ?, active = ?,
			parent_manufacturer_id = ?, parent_product_id = ?, parent_unit_id = ?,
			first_seen = ?, last_seen = ?, address_requests = ?,
			needs_refresh = ?, pending_name_write = ?
		WHERE id = ?`

	result, err := r.q.ExecContext(ctx, query,
		n.Name,
		n.Identity.Manufacturer,
		n.Identity.Product,
		n.Identity.Unit,
		int64(n.Address),
		int64(n.EngineAddress),
		int64(n.Services),
		boolToInt(n.Active),
		n.Parent.Manufacturer,
		n.Parent.Product,
		n.Parent.Unit,
		formatTime(n.FirstSeen),
		formatTime(n.LastSeen),
		n.AddressRequests,
		boolToInt(n.NeedsRefresh),
		boolToInt(n.PendingNameWrite),
		n.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrNodeExists, n.Identity)
		}
		return fmt.Errorf("updating node: %w", err)
	}
	return requireAffected(result)
}

// Delete removes a record by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.q.ExecContext(ctx, "DELETE FROM nodes WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting node: %w", err)
	}
	return requireAffected(result)
}

// NextAddress advances the persisted allocator counter past 0, the
// broadcast address and every address currently held by a record.
func (r *SQLiteRepository) NextAddress(ctx context.Context) (Address, error) {
	if !r.inTx {
		var addr Address
		err := r.Atomic(ctx, func(tx Repository) error {
			var err error
			addr, err = tx.NextAddress(ctx)
			return err
		})
		return addr, err
	}

	var next int64
	err := r.q.QueryRowContext(ctx,
		"SELECT next_address FROM address_allocator WHERE id = 1").Scan(&next)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		next = int64(r.firstAddress)
	case err != nil:
		return 0, fmt.Errorf("reading allocator state: %w", err)
	}

	for ; next <= maxAddress; next++ {
		candidate := Address(next)
		if candidate == 0 || candidate == BroadcastAddress {
			continue
		}

		var held int
		if err := r.q.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM nodes WHERE address = ?", next).Scan(&held); err != nil {
			return 0, fmt.Errorf("checking address %s: %w", candidate, err)
		}
		if held > 0 {
			continue
		}

		if _, err := r.q.ExecContext(ctx, `
			INSERT INTO address_allocator (id, next_address) VALUES (1, ?)
			ON CONFLICT(id) DO UPDATE SET next_address = excluded.next_address`,
			next+1,
		); err != nil {
			return 0, fmt.Errorf("saving allocator state: %w", err)
		}
		return candidate, nil
	}
	return 0, ErrAddressSpaceExhausted
}

const maxAddress = int64(^uint32(0))

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (*Node, error) {
	var n Node
	var addr, engine, services int64
	var active, refresh, pending int
	var firstSeen, lastSeen string

	err := row.Scan(
		&n.ID,
		&n.Name,
		&n.Identity.Manufacturer,
		&n.Identity.Product,
		&n.Identity.Unit,
		&addr,
		&engine,
		&services,
		&active,
		&n.Parent.Manufacturer,
		&n.Parent.Product,
		&n.Parent.Unit,
		&firstSeen,
		&lastSeen,
		&n.AddressRequests,
		&refresh,
		&pending,
	)
	if err != nil {
		return nil, err
	}

	n.Address = Address(addr)
	n.EngineAddress = Address(engine)
	n.Services = ServiceMask(services)
	n.Active = active != 0
	n.NeedsRefresh = refresh != 0
	n.PendingNameWrite = pending != 0
	n.FirstSeen = parseTime(firstSeen)
	n.LastSeen = parseTime(lastSeen)
	return &n, nil
}

func requireAffected(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNodeNotFound
	}
	return nil
}

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
