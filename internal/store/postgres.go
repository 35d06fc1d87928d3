package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/iurnickita/sugarrush/internal/model"
	"github.com/iurnickita/sugarrush/internal/store/config"
)

const (
	pgUniqueViolation = "23505"
	pgCheckViolation  = "23514"

	constraintOrderPK     = "orders_pkey"
	constraintOneActiveID = "orders_one_active_per_requester"
)

var schema = []string{
	// Таблица заказов. Одна строка на заказ, статус меняется на месте
	"CREATE TABLE IF NOT EXISTS orders (" +
		" id VARCHAR (16) PRIMARY KEY," +
		" requester_id VARCHAR (32) NOT NULL," +
		" guild_id VARCHAR (32) NOT NULL," +
		" channel_id VARCHAR (32) NOT NULL," +
		" status VARCHAR (24) NOT NULL," +
		" item TEXT NOT NULL," +
		" priority BOOLEAN NOT NULL DEFAULT FALSE," +
		" discounted BOOLEAN NOT NULL DEFAULT FALSE," +
		" charged INTEGER NOT NULL DEFAULT 0," +
		" preparer_id VARCHAR (32) NOT NULL DEFAULT ''," +
		" preparer_name TEXT NOT NULL DEFAULT ''," +
		" fulfiller_id VARCHAR (32) NOT NULL DEFAULT ''," +
		" created_at TIMESTAMPTZ NOT NULL," +
		" claimed_at TIMESTAMPTZ," +
		" preparing_at TIMESTAMPTZ," +
		" ready_at TIMESTAMPTZ," +
		" proof TEXT NOT NULL DEFAULT '[]'," +
		" rating INTEGER NOT NULL DEFAULT 0," +
		" archive_handle TEXT NOT NULL DEFAULT ''" +
		" );",
	// Не более одного незавершенного заказа на клиента
	"CREATE UNIQUE INDEX IF NOT EXISTS " + constraintOneActiveID +
		" ON orders (requester_id)" +
		" WHERE status IN ('pending', 'claimed', 'preparing', 'ready');",
	// Журнал статусов заказа
	"CREATE TABLE IF NOT EXISTS order_history (" +
		" id BIGSERIAL PRIMARY KEY," +
		" order_id VARCHAR (16) NOT NULL REFERENCES orders (id)," +
		" status VARCHAR (24) NOT NULL," +
		" actor VARCHAR (32) NOT NULL DEFAULT ''," +
		" note TEXT NOT NULL DEFAULT ''," +
		" changed_at TIMESTAMPTZ NOT NULL" +
		" );",
	"CREATE TABLE IF NOT EXISTS accounts (" +
		" id VARCHAR (32) PRIMARY KEY," +
		" balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0)," +
		" last_claim_at TIMESTAMPTZ," +
		" prep_count_week INTEGER NOT NULL DEFAULT 0," +
		" prep_count_total INTEGER NOT NULL DEFAULT 0," +
		" fulfill_count_week INTEGER NOT NULL DEFAULT 0," +
		" fulfill_count_total INTEGER NOT NULL DEFAULT 0," +
		" prep_quota_failures INTEGER NOT NULL DEFAULT 0," +
		" fulfill_quota_failures INTEGER NOT NULL DEFAULT 0," +
		" strike_count INTEGER NOT NULL DEFAULT 0," +
		" suspension VARCHAR (16) NOT NULL DEFAULT 'none'," +
		" suspended_until TIMESTAMPTZ," +
		" perk_until TIMESTAMPTZ," +
		" membership_until TIMESTAMPTZ," +
		" greeting TEXT NOT NULL DEFAULT ''" +
		" );",
	"CREATE TABLE IF NOT EXISTS markers (" +
		" key VARCHAR (64) PRIMARY KEY," +
		" value TIMESTAMPTZ NOT NULL" +
		" );",
	"CREATE TABLE IF NOT EXISTS server_blacklist (" +
		" guild_id VARCHAR (32) PRIMARY KEY," +
		" reason TEXT NOT NULL DEFAULT ''" +
		" );",
}

const orderColumns = "id, requester_id, guild_id, channel_id, status, item, priority, discounted, charged," +
	" preparer_id, preparer_name, fulfiller_id, created_at, claimed_at, preparing_at, ready_at," +
	" proof, rating, archive_handle"

const accountColumns = "id, balance, last_claim_at, prep_count_week, prep_count_total," +
	" fulfill_count_week, fulfill_count_total, prep_quota_failures, fulfill_quota_failures," +
	" strike_count, suspension, suspended_until, perk_until, membership_until, greeting"

type postgresStore struct {
	database *sql.DB
}

func NewPostgresStore(cfg config.Config) (Store, error) {
	db, err := sql.Open("pgx", cfg.DBDsn)
	if err != nil {
		return nil, err
	}
	for _, stmt := range schema {
		if _, err = db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return &postgresStore{database: db}, nil
}

func (store *postgresStore) OrderCreate(ctx context.Context, order model.Order, changes ...AccountChange) error {
	return store.inTx(ctx, func(tx *sql.Tx) error {
		proof, err := json.Marshal(proofOrEmpty(order.Proof))
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO orders ("+orderColumns+")"+
				" VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)",
			order.ID,
			order.RequesterID,
			order.Origin.GuildID,
			order.Origin.ChannelID,
			order.Status,
			order.Item,
			order.Priority,
			order.Discounted,
			order.Charged,
			order.PreparerID,
			order.PreparerName,
			order.FulfillerID,
			order.CreatedAt,
			nullTime(order.ClaimedAt),
			nullTime(order.PreparingAt),
			nullTime(order.ReadyAt),
			string(proof),
			order.Rating,
			order.ArchiveHandle)
		if err != nil {
			return mapUniqueViolation(err)
		}
		if err = store.insertHistory(ctx, tx, order, order.RequesterID, "", order.CreatedAt); err != nil {
			return err
		}
		return store.applyChanges(ctx, tx, changes)
	})
}

func (store *postgresStore) OrderTransition(ctx context.Context, t Transition) error {
	return store.inTx(ctx, func(tx *sql.Tx) error {
		order := t.Order
		proof, err := json.Marshal(proofOrEmpty(order.Proof))
		if err != nil {
			return err
		}
		// Обновление только при неизменном статусе
		result, err := tx.ExecContext(ctx,
			"UPDATE orders SET"+
				" status = $1, preparer_id = $2, preparer_name = $3, fulfiller_id = $4,"+
				" claimed_at = $5, preparing_at = $6, ready_at = $7, proof = $8, rating = $9"+
				" WHERE id = $10 AND status = $11",
			order.Status,
			order.PreparerID,
			order.PreparerName,
			order.FulfillerID,
			nullTime(order.ClaimedAt),
			nullTime(order.PreparingAt),
			nullTime(order.ReadyAt),
			string(proof),
			order.Rating,
			order.ID,
			t.From)
		if err != nil {
			return mapUniqueViolation(err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			var exists bool
			row := tx.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)", order.ID)
			if err = row.Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return ErrNoRows
			}
			return ErrStatusChanged
		}
		if t.From != order.Status || t.Note != "" {
			if err = store.insertHistory(ctx, tx, order, t.Actor, t.Note, t.At); err != nil {
				return err
			}
		}
		return store.applyChanges(ctx, tx, t.Changes)
	})
}

func (store *postgresStore) OrderGet(ctx context.Context, id string) (model.Order, error) {
	row := store.database.QueryRowContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE id = $1",
		id)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Order{}, ErrNoRows
		}
		return model.Order{}, err
	}
	return order, nil
}

func (store *postgresStore) OrderExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	row := store.database.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)", id)
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (store *postgresStore) OrderSetArchiveHandle(ctx context.Context, id string, handle string) error {
	result, err := store.database.ExecContext(ctx,
		"UPDATE orders SET archive_handle = $1 WHERE id = $2",
		handle,
		id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNoRows
	}
	return nil
}

func (store *postgresStore) OrderFindActive(ctx context.Context, requester string) (model.Order, error) {
	row := store.database.QueryRowContext(ctx,
		"SELECT "+orderColumns+" FROM orders"+
			" WHERE requester_id = $1"+
			"   AND status IN ('pending', 'claimed', 'preparing', 'ready')"+
			" LIMIT 1",
		requester)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Order{}, ErrNoRows
		}
		return model.Order{}, err
	}
	return order, nil
}

func (store *postgresStore) OrderFindByStatus(ctx context.Context, statuses ...model.OrderStatus) ([]model.Order, error) {
	names := make([]string, len(statuses))
	for i, status := range statuses {
		names[i] = string(status)
	}
	rows, err := store.database.QueryContext(ctx,
		"SELECT "+orderColumns+" FROM orders"+
			" WHERE status = ANY($1)"+
			" ORDER BY created_at",
		names)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

func (store *postgresStore) OrderCountActive(ctx context.Context) (int, error) {
	var count int
	row := store.database.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM orders WHERE status IN ('pending', 'claimed', 'preparing', 'ready')")
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (store *postgresStore) OrderHistory(ctx context.Context, id string) ([]model.HistoryEntry, error) {
	exists, err := store.OrderExists(ctx, id)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNoRows
	}
	rows, err := store.database.QueryContext(ctx,
		"SELECT order_id, status, actor, note, changed_at FROM order_history"+
			" WHERE order_id = $1"+
			" ORDER BY id",
		id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.HistoryEntry
	for rows.Next() {
		var entry model.HistoryEntry
		if err := rows.Scan(&entry.OrderID, &entry.Status, &entry.Actor, &entry.Note, &entry.ChangedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (store *postgresStore) AccountGet(ctx context.Context, id string) (model.Account, error) {
	row := store.database.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE id = $1",
		id)
	acct, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Account{}, ErrNoRows
		}
		return model.Account{}, err
	}
	return acct, nil
}

func (store *postgresStore) AccountUpdate(ctx context.Context, id string, fn func(acct *model.Account) error) (model.Account, error) {
	var updated model.Account
	err := store.inTx(ctx, func(tx *sql.Tx) error {
		acct, err := store.lockAccount(ctx, tx, id)
		if err != nil {
			return err
		}
		if err = fn(&acct); err != nil {
			return err
		}
		acct.ID = id
		if err = store.saveAccount(ctx, tx, acct); err != nil {
			return err
		}
		updated = acct
		return nil
	})
	return updated, err
}

func (store *postgresStore) MarkerGet(ctx context.Context, key string) (time.Time, error) {
	var value time.Time
	row := store.database.QueryRowContext(ctx, "SELECT value FROM markers WHERE key = $1", key)
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, ErrNoRows
		}
		return time.Time{}, err
	}
	return value, nil
}

func (store *postgresStore) MarkerSet(ctx context.Context, key string, value time.Time) error {
	_, err := store.database.ExecContext(ctx,
		"INSERT INTO markers (key, value) VALUES ($1, $2)"+
			" ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value",
		key,
		value)
	return err
}

func (store *postgresStore) BlacklistAdd(ctx context.Context, guildID string, reason string) error {
	_, err := store.database.ExecContext(ctx,
		"INSERT INTO server_blacklist (guild_id, reason) VALUES ($1, $2)"+
			" ON CONFLICT (guild_id) DO UPDATE SET reason = EXCLUDED.reason",
		guildID,
		reason)
	return err
}

func (store *postgresStore) BlacklistRemove(ctx context.Context, guildID string) error {
	_, err := store.database.ExecContext(ctx, "DELETE FROM server_blacklist WHERE guild_id = $1", guildID)
	return err
}

func (store *postgresStore) BlacklistHas(ctx context.Context, guildID string) (bool, error) {
	var exists bool
	row := store.database.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM server_blacklist WHERE guild_id = $1)",
		guildID)
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (store *postgresStore) Close() error {
	return store.database.Close()
}

func (store *postgresStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := store.database.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err = fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// applyChanges locks every touched account row for the rest of the
// transaction. Rows are created on first touch.
func (store *postgresStore) applyChanges(ctx context.Context, tx *sql.Tx, changes []AccountChange) error {
	for _, change := range changes {
		acct, err := store.lockAccount(ctx, tx, change.AccountID)
		if err != nil {
			return err
		}
		if err = change.Apply(&acct); err != nil {
			return err
		}
		acct.ID = change.AccountID
		if err = store.saveAccount(ctx, tx, acct); err != nil {
			return err
		}
	}
	return nil
}

func (store *postgresStore) lockAccount(ctx context.Context, tx *sql.Tx, id string) (model.Account, error) {
	_, err := tx.ExecContext(ctx, "INSERT INTO accounts (id) VALUES ($1) ON CONFLICT (id) DO NOTHING", id)
	if err != nil {
		return model.Account{}, err
	}
	row := tx.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE id = $1 FOR UPDATE",
		id)
	return scanAccount(row)
}

func (store *postgresStore) saveAccount(ctx context.Context, tx *sql.Tx, acct model.Account) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE accounts SET"+
			" balance = $1, last_claim_at = $2,"+
			" prep_count_week = $3, prep_count_total = $4,"+
			" fulfill_count_week = $5, fulfill_count_total = $6,"+
			" prep_quota_failures = $7, fulfill_quota_failures = $8,"+
			" strike_count = $9, suspension = $10, suspended_until = $11,"+
			" perk_until = $12, membership_until = $13, greeting = $14"+
			" WHERE id = $15",
		acct.Balance,
		nullTime(acct.LastClaimAt),
		acct.PrepCountWeek,
		acct.PrepCountTotal,
		acct.FulfillCountWeek,
		acct.FulfillCountTotal,
		acct.PrepQuotaFailures,
		acct.FulfillQuotaFailures,
		acct.StrikeCount,
		string(suspensionKind(acct.Suspension)),
		nullTime(acct.Suspension.Until),
		nullTime(acct.PerkUntil),
		nullTime(acct.MembershipUntil),
		acct.Greeting,
		acct.ID)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgCheckViolation {
		return ErrInsufficientFunds
	}
	return err
}

func (store *postgresStore) insertHistory(ctx context.Context, tx *sql.Tx, order model.Order, actor string, note string, at time.Time) error {
	if at.IsZero() {
		at = time.Now()
	}
	_, err := tx.ExecContext(ctx,
		"INSERT INTO order_history (order_id, status, actor, note, changed_at)"+
			" VALUES ($1, $2, $3, $4, $5)",
		order.ID,
		order.Status,
		actor,
		note,
		at.UTC())
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (model.Order, error) {
	var (
		order                           model.Order
		claimedAt, preparingAt, readyAt sql.NullTime
		proof                           string
	)
	err := row.Scan(&order.ID,
		&order.RequesterID,
		&order.Origin.GuildID,
		&order.Origin.ChannelID,
		&order.Status,
		&order.Item,
		&order.Priority,
		&order.Discounted,
		&order.Charged,
		&order.PreparerID,
		&order.PreparerName,
		&order.FulfillerID,
		&order.CreatedAt,
		&claimedAt,
		&preparingAt,
		&readyAt,
		&proof,
		&order.Rating,
		&order.ArchiveHandle)
	if err != nil {
		return model.Order{}, err
	}
	order.ClaimedAt = claimedAt.Time
	order.PreparingAt = preparingAt.Time
	order.ReadyAt = readyAt.Time
	if err = json.Unmarshal([]byte(proof), &order.Proof); err != nil {
		return model.Order{}, fmt.Errorf("decode proof of %s: %w", order.ID, err)
	}
	if len(order.Proof) == 0 {
		order.Proof = nil
	}
	return order, nil
}

func scanAccount(row rowScanner) (model.Account, error) {
	var (
		acct                                                  model.Account
		lastClaim, suspendedUntil, perkUntil, membershipUntil sql.NullTime
		suspension                                            string
	)
	err := row.Scan(&acct.ID,
		&acct.Balance,
		&lastClaim,
		&acct.PrepCountWeek,
		&acct.PrepCountTotal,
		&acct.FulfillCountWeek,
		&acct.FulfillCountTotal,
		&acct.PrepQuotaFailures,
		&acct.FulfillQuotaFailures,
		&acct.StrikeCount,
		&suspension,
		&suspendedUntil,
		&perkUntil,
		&membershipUntil,
		&acct.Greeting)
	if err != nil {
		return model.Account{}, err
	}
	acct.LastClaimAt = lastClaim.Time
	acct.Suspension = model.Suspension{Kind: model.SuspensionKind(suspension), Until: suspendedUntil.Time}
	acct.PerkUntil = perkUntil.Time
	acct.MembershipUntil = membershipUntil.Time
	return acct, nil
}

func mapUniqueViolation(err error) error {
	// Проверка: уже существует
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		switch pgErr.ConstraintName {
		case constraintOneActiveID:
			return ErrDuplicateActive
		case constraintOrderPK:
			return ErrAlreadyExists
		}
	}
	return err
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func proofOrEmpty(proof []string) []string {
	if proof == nil {
		return []string{}
	}
	return proof
}

func suspensionKind(s model.Suspension) model.SuspensionKind {
	if s.Kind == "" {
		return model.SuspensionNone
	}
	return s.Kind
}
