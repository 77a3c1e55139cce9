package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/relayhq/relay-provisioner/internal/models"
	"github.com/relayhq/relay-provisioner/pkg/utils"
)

// PostgreSQLStorage implements Storage interface using PostgreSQL
type PostgreSQLStorage struct {
	db         *sql.DB
	config     *StorageConfig
	logger     *logrus.Logger
	migrations []*Migration
}

// NewPostgreSQLStorage creates a new PostgreSQL storage instance
func NewPostgreSQLStorage(config *StorageConfig) *PostgreSQLStorage {
	return &PostgreSQLStorage{
		config:     config,
		logger:     utils.GetLogger(),
		migrations: GetPostgreSQLMigrations(),
	}
}

// Connect establishes database connection
func (s *PostgreSQLStorage) Connect() error {
	db, err := sql.Open("postgres", s.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open PostgreSQL database", err.Error())
	}

	db.SetMaxOpenConns(s.config.MaxConnections)
	db.SetMaxIdleConns(s.config.MaxConnections / 2)
	db.SetConnMaxLifetime(s.config.MaxIdleTime)

	if err := db.Ping(); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to connect to PostgreSQL", err.Error())
	}

	s.db = db
	s.logger.Info("PostgreSQL database connected")

	return nil
}

// Close closes the database connection
func (s *PostgreSQLStorage) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		s.logger.Info("PostgreSQL database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (s *PostgreSQLStorage) Ping() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}
	return s.db.Ping()
}

// Migrate runs database migrations
func (s *PostgreSQLStorage) Migrate() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	s.logger.Info("Starting database migrations")

	for _, migration := range s.migrations {
		s.logger.Info("Applying migration", "version", migration.Version, "description", migration.Description)

		if _, err := s.db.Exec(migration.SQL); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase,
				fmt.Sprintf("Migration %s failed", migration.Version),
				err.Error())
		}
	}

	s.logger.Info("Database migrations completed")
	return nil
}

// SaveOrder inserts or updates an order
func (s *PostgreSQLStorage) SaveOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders
		(id, relay_id, payment_reference, invoice, amount_sats, paid, status, created_at, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			payment_reference = EXCLUDED.payment_reference,
			invoice = EXCLUDED.invoice,
			amount_sats = EXCLUDED.amount_sats,
			paid = EXCLUDED.paid,
			status = EXCLUDED.status,
			paid_at = EXCLUDED.paid_at
	`

	_, err := s.db.ExecContext(ctx, query,
		order.ID, order.RelayID, order.PaymentReference, order.Invoice,
		order.AmountSats, order.Paid, order.Status, order.CreatedAt, order.PaidAt)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save order", err.Error())
	}

	return nil
}

// GetOrder fetches one order by id
func (s *PostgreSQLStorage) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	query := `
		SELECT id, relay_id, payment_reference, invoice, amount_sats, paid, status, created_at, paid_at
		FROM orders WHERE id = $1
	`

	order, err := scanOrder(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, utils.NewAppError(utils.ErrCodeNotFound, "Order not found", id)
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get order", err.Error())
	}

	return order, nil
}

// GetOrdersByOwner fetches orders whose relay belongs to a pubkey
func (s *PostgreSQLStorage) GetOrdersByOwner(ctx context.Context, ownerPubkey string) ([]*models.Order, error) {
	query := `
		SELECT o.id, o.relay_id, o.payment_reference, o.invoice, o.amount_sats, o.paid, o.status, o.created_at, o.paid_at
		FROM orders o
		JOIN relays r ON r.id = o.relay_id
		WHERE r.owner_pubkey = $1
		ORDER BY o.created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, ownerPubkey)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get orders", err.Error())
	}
	defer rows.Close()

	return collectOrders(rows)
}

// GetAllOrders fetches all orders, newest first
func (s *PostgreSQLStorage) GetAllOrders(ctx context.Context, limit, offset int) ([]*models.Order, error) {
	query := `
		SELECT id, relay_id, payment_reference, invoice, amount_sats, paid, status, created_at, paid_at
		FROM orders ORDER BY created_at DESC LIMIT $1 OFFSET $2
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get orders", err.Error())
	}
	defer rows.Close()

	return collectOrders(rows)
}

// GetPendingOrders loads unpaid pending orders joined with their relays
func (s *PostgreSQLStorage) GetPendingOrders(ctx context.Context) ([]*models.PendingOrder, error) {
	query := `
		SELECT o.id, o.relay_id, o.payment_reference, o.invoice, o.amount_sats, o.paid, o.status, o.created_at, o.paid_at,
		       r.id, r.name, r.status, r.owner_pubkey, r.created_at, r.updated_at
		FROM orders o
		JOIN relays r ON r.id = o.relay_id
		WHERE o.paid = FALSE AND o.status = $1
		ORDER BY o.created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, models.OrderStatusPending)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get pending orders", err.Error())
	}
	defer rows.Close()

	var pending []*models.PendingOrder
	for rows.Next() {
		order := &models.Order{}
		relay := &models.Relay{}
		var paidAt sql.NullTime

		err := rows.Scan(
			&order.ID, &order.RelayID, &order.PaymentReference, &order.Invoice,
			&order.AmountSats, &order.Paid, &order.Status, &order.CreatedAt, &paidAt,
			&relay.ID, &relay.Name, &relay.Status, &relay.OwnerPubkey,
			&relay.CreatedAt, &relay.UpdatedAt)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan pending order", err.Error())
		}
		if paidAt.Valid {
			order.PaidAt = &paidAt.Time
		}

		pending = append(pending, &models.PendingOrder{Order: order, Relay: relay})
	}

	if err := rows.Err(); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to read pending orders", err.Error())
	}

	return pending, nil
}

// SettleOrder marks an order paid and advances its relay to provision in
// one transaction, relying on the guarded UPDATEs for idempotence: redone
// work matches zero rows, and a failed relay write rolls the order back
// into the pending set.
func (s *PostgreSQLStorage) SettleOrder(ctx context.Context, orderID, relayID string, paidAt time.Time) (bool, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to begin settlement", err.Error())
	}
	defer tx.Rollback()

	orderQuery := `UPDATE orders SET paid = TRUE, status = $1, paid_at = $2 WHERE id = $3 AND paid = FALSE`

	result, err := tx.ExecContext(ctx, orderQuery, models.OrderStatusPaid, paidAt, orderID)
	if err != nil {
		return false, false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to mark order paid", err.Error())
	}
	orderRows, err := result.RowsAffected()
	if err != nil {
		return false, false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to read settlement result", err.Error())
	}

	relayQuery := `
		UPDATE relays SET status = $1, updated_at = $2
		WHERE id = $3 AND (status = '' OR status = $4)
	`

	result, err = tx.ExecContext(ctx, relayQuery,
		models.RelayStatusProvision, time.Now().UTC(), relayID, models.RelayStatusPending)
	if err != nil {
		return false, false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to provision relay", err.Error())
	}
	relayRows, err := result.RowsAffected()
	if err != nil {
		return false, false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to read provision result", err.Error())
	}

	if err := tx.Commit(); err != nil {
		return false, false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to commit settlement", err.Error())
	}

	return orderRows > 0, relayRows > 0, nil
}

// SaveRelay inserts or updates a relay
func (s *PostgreSQLStorage) SaveRelay(ctx context.Context, relay *models.Relay) error {
	query := `
		INSERT INTO relays (id, name, status, owner_pubkey, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		relay.ID, relay.Name, relay.Status, relay.OwnerPubkey,
		relay.CreatedAt, relay.UpdatedAt)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save relay", err.Error())
	}

	return nil
}

// GetRelay fetches one relay by id
func (s *PostgreSQLStorage) GetRelay(ctx context.Context, id string) (*models.Relay, error) {
	query := `
		SELECT id, name, status, owner_pubkey, created_at, updated_at
		FROM relays WHERE id = $1
	`

	relay := &models.Relay{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&relay.ID, &relay.Name, &relay.Status, &relay.OwnerPubkey,
		&relay.CreatedAt, &relay.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, utils.NewAppError(utils.ErrCodeNotFound, "Relay not found", id)
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get relay", err.Error())
	}

	return relay, nil
}

// GetRelaysByOwner fetches relays owned by a pubkey
func (s *PostgreSQLStorage) GetRelaysByOwner(ctx context.Context, ownerPubkey string) ([]*models.Relay, error) {
	query := `
		SELECT id, name, status, owner_pubkey, created_at, updated_at
		FROM relays WHERE owner_pubkey = $1 ORDER BY created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, ownerPubkey)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get relays", err.Error())
	}
	defer rows.Close()

	var relays []*models.Relay
	for rows.Next() {
		relay := &models.Relay{}
		err := rows.Scan(&relay.ID, &relay.Name, &relay.Status, &relay.OwnerPubkey,
			&relay.CreatedAt, &relay.UpdatedAt)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan relay", err.Error())
		}
		relays = append(relays, relay)
	}

	if err := rows.Err(); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to read relays", err.Error())
	}

	return relays, nil
}

// SaveUser inserts or updates a user
func (s *PostgreSQLStorage) SaveUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (pubkey, name, admin, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (pubkey) DO UPDATE SET name = EXCLUDED.name, admin = EXCLUDED.admin
	`

	_, err := s.db.ExecContext(ctx, query, user.Pubkey, user.Name, user.Admin, user.CreatedAt)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save user", err.Error())
	}

	return nil
}

// GetUser fetches a user by pubkey
func (s *PostgreSQLStorage) GetUser(ctx context.Context, pubkey string) (*models.User, error) {
	query := `SELECT pubkey, name, admin, created_at FROM users WHERE pubkey = $1`

	user := &models.User{}
	err := s.db.QueryRowContext(ctx, query, pubkey).Scan(
		&user.Pubkey, &user.Name, &user.Admin, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, utils.NewAppError(utils.ErrCodeNotFound, "User not found", pubkey)
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get user", err.Error())
	}

	return user, nil
}

// SetUserAdmin updates a user's admin flag
func (s *PostgreSQLStorage) SetUserAdmin(ctx context.Context, pubkey string, admin bool) error {
	result, err := s.db.ExecContext(ctx, `UPDATE users SET admin = $1 WHERE pubkey = $2`, admin, pubkey)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to update user", err.Error())
	}

	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return utils.NewAppError(utils.ErrCodeNotFound, "User not found", pubkey)
	}

	return nil
}

// GetStorageStats returns aggregate counts
func (s *PostgreSQLStorage) GetStorageStats(ctx context.Context) (*StorageStats, error) {
	stats := &StorageStats{}

	queries := []struct {
		query string
		args  []interface{}
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM orders", nil, &stats.TotalOrders},
		{"SELECT COUNT(*) FROM orders WHERE paid = FALSE AND status = $1", []interface{}{models.OrderStatusPending}, &stats.PendingOrders},
		{"SELECT COUNT(*) FROM orders WHERE paid = TRUE", nil, &stats.PaidOrders},
		{"SELECT COUNT(*) FROM relays", nil, &stats.TotalRelays},
		{"SELECT COUNT(*) FROM relays WHERE status = $1", []interface{}{models.RelayStatusProvision}, &stats.ProvisionedRelays},
		{"SELECT COUNT(*) FROM users", nil, &stats.TotalUsers},
	}

	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query, q.args...).Scan(q.dest); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get storage stats", err.Error())
		}
	}

	return stats, nil
}
