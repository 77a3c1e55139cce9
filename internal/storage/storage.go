package storage

import (
	"context"
	"time"

	"github.com/relayhq/relay-provisioner/internal/models"
)

// Storage defines the interface for order, relay and user persistence
type Storage interface {
	// Connection management
	Connect() error
	Close() error
	Ping() error
	Migrate() error

	// Order operations
	SaveOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	GetOrdersByOwner(ctx context.Context, ownerPubkey string) ([]*models.Order, error)
	GetAllOrders(ctx context.Context, limit, offset int) ([]*models.Order, error)

	// GetPendingOrders returns all orders with paid=false and
	// status=pending, each joined with its relay. Every reconciliation
	// cycle re-reads this set; nothing is cached across cycles.
	GetPendingOrders(ctx context.Context) ([]*models.PendingOrder, error)

	// SettleOrder applies the coupled settlement transition in a single
	// transaction: the order is marked paid (only if still unpaid) and
	// its relay advanced to provision (only from the unset or pending
	// states). Either both writes commit or neither does, so a failure
	// leaves the order in the pending set for the next cycle. settled
	// reports whether the order transitioned; provisioned whether the
	// relay did. Both are false when the work was already done, which
	// makes repeat calls no-ops.
	SettleOrder(ctx context.Context, orderID, relayID string, paidAt time.Time) (settled, provisioned bool, err error)

	// Relay operations
	SaveRelay(ctx context.Context, relay *models.Relay) error
	GetRelay(ctx context.Context, id string) (*models.Relay, error)
	GetRelaysByOwner(ctx context.Context, ownerPubkey string) ([]*models.Relay, error)

	// User operations
	SaveUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, pubkey string) (*models.User, error)
	SetUserAdmin(ctx context.Context, pubkey string, admin bool) error

	// Statistics
	GetStorageStats(ctx context.Context) (*StorageStats, error)
}

// StorageStats provides storage statistics
type StorageStats struct {
	TotalOrders        int64 `json:"total_orders"`
	PendingOrders      int64 `json:"pending_orders"`
	PaidOrders         int64 `json:"paid_orders"`
	TotalRelays        int64 `json:"total_relays"`
	ProvisionedRelays  int64 `json:"provisioned_relays"`
	TotalUsers         int64 `json:"total_users"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type             string        `json:"type"`
	ConnectionString string        `json:"connection_string"`
	MaxConnections   int           `json:"max_connections"`
	MaxIdleTime      time.Duration `json:"max_idle_time"`
}
