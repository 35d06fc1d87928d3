// Package balance is the coin economy: prices, allowances, perks and the
// account reads around them.
package balance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iurnickita/sugarrush/internal/balance/config"
	"github.com/iurnickita/sugarrush/internal/directory"
	"github.com/iurnickita/sugarrush/internal/model"
	"github.com/iurnickita/sugarrush/internal/scheduler"
	"github.com/iurnickita/sugarrush/internal/store"
)

// PerkDoubleStats doubles work counters while active.
const PerkDoubleStats = "double_stats"

type Balance interface {
	Quote(acct model.Account, priority bool, now time.Time) (Quote, error)
	Get(ctx context.Context, actor model.Actor) (model.Account, error)
	ClaimDaily(ctx context.Context, actor model.Actor) (model.Account, int, error)
	BuyPerk(ctx context.Context, actor model.Actor, perk string) (model.Account, error)
	GrantMembership(ctx context.Context, actor model.Actor, target string, days int) (model.Account, error)
	SetGreeting(ctx context.Context, actor model.Actor, text string) (model.Account, error)
}

// Quote is the price of one order for one account.
type Quote struct {
	Price      int
	Discounted bool
}

type balance struct {
	cfg       config.Config
	store     store.Store
	directory directory.Directory
	clock     scheduler.Clock
	zaplog    *zap.Logger
}

func NewBalance(cfg config.Config, store store.Store, directory directory.Directory, clock scheduler.Clock, zaplog *zap.Logger) Balance {
	balance := balance{
		cfg:       cfg,
		store:     store,
		directory: directory,
		clock:     clock,
		zaplog:    zaplog.Named("balance"),
	}
	return &balance
}

// Quote prices an order. Members pay the discounted rate and cannot buy
// priority.
func (balance *balance) Quote(acct model.Account, priority bool, now time.Time) (Quote, error) {
	member := acct.Member(now)
	switch {
	case member && priority:
		return Quote{}, model.ErrPriorityRestricted
	case member:
		return Quote{Price: balance.cfg.MemberPrice, Discounted: true}, nil
	case priority:
		return Quote{Price: balance.cfg.PriorityPrice}, nil
	default:
		return Quote{Price: balance.cfg.StandardPrice}, nil
	}
}

func (balance *balance) Get(ctx context.Context, actor model.Actor) (model.Account, error) {
	if actor.ID == "" {
		return model.Account{}, model.ErrInvalidInput
	}
	return store.AccountOrNew(ctx, balance.store, actor.ID)
}

// ClaimDaily credits the daily allowance once per cooldown window.
func (balance *balance) ClaimDaily(ctx context.Context, actor model.Actor) (model.Account, int, error) {
	if actor.ID == "" {
		return model.Account{}, 0, model.ErrInvalidInput
	}
	now := balance.clock.Now()
	var amount int
	acct, err := balance.store.AccountUpdate(ctx, actor.ID, func(acct *model.Account) error {
		if acct.Suspension.Active(now) {
			return model.ErrSuspended
		}
		if !acct.LastClaimAt.IsZero() {
			if wait := acct.LastClaimAt.Add(balance.cfg.DailyCooldown).Sub(now); wait > 0 {
				return fmt.Errorf("%w: next claim in %s", model.ErrCooldown, wait.Round(time.Minute))
			}
		}
		amount = balance.cfg.DailyAllowance
		if acct.Member(now) {
			amount = balance.cfg.MemberDailyAllowance
		}
		acct.Balance += amount
		acct.LastClaimAt = now
		return nil
	})
	if err != nil {
		return model.Account{}, 0, err
	}
	balance.zaplog.Info("daily allowance claimed",
		zap.String("actor", actor.ID),
		zap.Int("amount", amount),
		zap.Int("balance", acct.Balance))
	return acct, amount, nil
}

// BuyPerk sells a staff perk. Buying while active extends from the current
// expiry.
func (balance *balance) BuyPerk(ctx context.Context, actor model.Actor, perk string) (model.Account, error) {
	if perk != PerkDoubleStats {
		return model.Account{}, fmt.Errorf("%w: unknown perk %q", model.ErrInvalidInput, perk)
	}
	caps, err := balance.directory.ResolveCapabilities(ctx, actor.ID)
	if err != nil {
		return model.Account{}, fmt.Errorf("resolve capabilities: %w", err)
	}
	if !caps.Staff() {
		return model.Account{}, model.ErrPermissionDenied
	}

	now := balance.clock.Now()
	acct, err := balance.store.AccountUpdate(ctx, actor.ID, func(acct *model.Account) error {
		if acct.Balance < balance.cfg.PerkPrice {
			return model.ErrInsufficientFunds
		}
		acct.Balance -= balance.cfg.PerkPrice
		from := now
		if acct.PerkUntil.After(now) {
			from = acct.PerkUntil
		}
		acct.PerkUntil = from.Add(balance.cfg.PerkDuration)
		return nil
	})
	if err != nil {
		return model.Account{}, mapStoreError(err)
	}
	balance.zaplog.Info("perk bought",
		zap.String("actor", actor.ID),
		zap.String("perk", perk),
		zap.Time("until", acct.PerkUntil))
	return acct, nil
}

// GrantMembership extends the target's membership by days.
func (balance *balance) GrantMembership(ctx context.Context, actor model.Actor, target string, days int) (model.Account, error) {
	if target == "" || days <= 0 {
		return model.Account{}, model.ErrInvalidInput
	}
	caps, err := balance.directory.ResolveCapabilities(ctx, actor.ID)
	if err != nil {
		return model.Account{}, fmt.Errorf("resolve capabilities: %w", err)
	}
	if !caps.CanManage() {
		return model.Account{}, model.ErrPermissionDenied
	}

	now := balance.clock.Now()
	acct, err := balance.store.AccountUpdate(ctx, target, func(acct *model.Account) error {
		from := now
		if acct.MembershipUntil.After(now) {
			from = acct.MembershipUntil
		}
		acct.MembershipUntil = from.AddDate(0, 0, days)
		return nil
	})
	if err != nil {
		return model.Account{}, err
	}
	balance.zaplog.Info("membership granted",
		zap.String("actor", actor.ID),
		zap.String("target", target),
		zap.Time("until", acct.MembershipUntil))
	return acct, nil
}

// SetGreeting stores the message a fulfiller hands over on delivery.
func (balance *balance) SetGreeting(ctx context.Context, actor model.Actor, text string) (model.Account, error) {
	text = strings.TrimSpace(text)
	if text == "" || len(text) > balance.cfg.MaxGreeting {
		return model.Account{}, model.ErrInvalidInput
	}
	caps, err := balance.directory.ResolveCapabilities(ctx, actor.ID)
	if err != nil {
		return model.Account{}, fmt.Errorf("resolve capabilities: %w", err)
	}
	if !caps.CanFulfill() {
		return model.Account{}, model.ErrPermissionDenied
	}
	return balance.store.AccountUpdate(ctx, actor.ID, func(acct *model.Account) error {
		acct.Greeting = text
		return nil
	})
}

// Debit takes amount from the account inside a store transaction.
func Debit(accountID string, amount int) store.AccountChange {
	return store.AccountChange{
		AccountID: accountID,
		Apply: func(acct *model.Account) error {
			if acct.Balance < amount {
				return model.ErrInsufficientFunds
			}
			acct.Balance -= amount
			return nil
		},
	}
}

func Credit(accountID string, amount int) store.AccountChange {
	return store.AccountChange{
		AccountID: accountID,
		Apply: func(acct *model.Account) error {
			acct.Balance += amount
			return nil
		},
	}
}

func mapStoreError(err error) error {
	if errors.Is(err, store.ErrInsufficientFunds) {
		return model.ErrInsufficientFunds
	}
	return err
}
