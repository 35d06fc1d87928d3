package store

import (
	"context"
	"errors"
	"time"

	"github.com/iurnickita/sugarrush/internal/model"
	"github.com/iurnickita/sugarrush/internal/store/config"
)

// AccountChange mutates one account in the same transaction as an order
// write. Apply sees the locked, current record; returning an error aborts the
// whole transaction.
type AccountChange struct {
	AccountID string
	Apply     func(acct *model.Account) error
}

// Transition is a guarded order write: it commits only while the stored
// status still equals From.
type Transition struct {
	Order   model.Order
	From    model.OrderStatus
	Actor   string
	Note    string
	// At stamps the history entry. Zero means the store's own clock.
	At      time.Time
	Changes []AccountChange
}

type Store interface {
	OrderCreate(ctx context.Context, order model.Order, changes ...AccountChange) error
	OrderTransition(ctx context.Context, t Transition) error
	OrderGet(ctx context.Context, id string) (model.Order, error)
	OrderExists(ctx context.Context, id string) (bool, error)
	OrderSetArchiveHandle(ctx context.Context, id string, handle string) error
	OrderFindActive(ctx context.Context, requester string) (model.Order, error)
	OrderFindByStatus(ctx context.Context, statuses ...model.OrderStatus) ([]model.Order, error)
	OrderCountActive(ctx context.Context) (int, error)
	OrderHistory(ctx context.Context, id string) ([]model.HistoryEntry, error)

	AccountGet(ctx context.Context, id string) (model.Account, error)
	AccountUpdate(ctx context.Context, id string, fn func(acct *model.Account) error) (model.Account, error)

	MarkerGet(ctx context.Context, key string) (time.Time, error)
	MarkerSet(ctx context.Context, key string, value time.Time) error

	BlacklistAdd(ctx context.Context, guildID string, reason string) error
	BlacklistRemove(ctx context.Context, guildID string) error
	BlacklistHas(ctx context.Context, guildID string) (bool, error)

	Close() error
}

var (
	ErrNoRows            = errors.New("no rows")
	ErrAlreadyExists     = errors.New("already exists")
	ErrDuplicateActive   = errors.New("requester already has an active order")
	ErrStatusChanged     = errors.New("order status changed concurrently")
	ErrInsufficientFunds = errors.New("balance would go negative")
)

// NewStore opens PostgreSQL when a DSN is configured and falls back to the
// in-memory store otherwise.
func NewStore(cfg config.Config) (Store, error) {
	if cfg.DBDsn == "" {
		return NewMemStore(), nil
	}
	return NewPostgresStore(cfg)
}

// AccountOrNew loads an account, treating a missing record as a fresh one.
func AccountOrNew(ctx context.Context, s Store, id string) (model.Account, error) {
	acct, err := s.AccountGet(ctx, id)
	if errors.Is(err, ErrNoRows) {
		return model.NewAccount(id), nil
	}
	return acct, err
}
