// Package lifecycle moves orders through their statuses. Every write to an
// order happens under that order's key lock and commits through a guarded
// store transition; timers re-check the status they expect when they fire.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iurnickita/sugarrush/internal/balance"
	"github.com/iurnickita/sugarrush/internal/directory"
	"github.com/iurnickita/sugarrush/internal/escalation"
	"github.com/iurnickita/sugarrush/internal/keylock"
	"github.com/iurnickita/sugarrush/internal/lifecycle/config"
	"github.com/iurnickita/sugarrush/internal/metrics"
	"github.com/iurnickita/sugarrush/internal/model"
	"github.com/iurnickita/sugarrush/internal/notify"
	"github.com/iurnickita/sugarrush/internal/scheduler"
	"github.com/iurnickita/sugarrush/internal/store"
)

type Engine interface {
	Submit(ctx context.Context, actor model.Actor, origin model.Origin, item string, priority bool) (model.Order, error)
	Claim(ctx context.Context, actor model.Actor, orderID string) (model.Order, error)
	Unclaim(ctx context.Context, actor model.Actor, orderID string) (model.Order, error)
	BeginPreparation(ctx context.Context, actor model.Actor, orderID string, proof []string) (model.Order, error)
	Deliver(ctx context.Context, actor model.Actor, orderID string) (model.Order, error)
	Discipline(ctx context.Context, actor model.Actor, orderID string, kind DisciplineKind, reason string) (model.Order, escalation.Effect, error)
	Refund(ctx context.Context, actor model.Actor, orderID string) (model.Order, error)

	Rate(ctx context.Context, actor model.Actor, orderID string, stars int) (model.Order, error)
	Tip(ctx context.Context, actor model.Actor, orderID string, amount int) (model.Order, error)
	Active(ctx context.Context, actor model.Actor) (ActiveOrder, error)
	Lookup(ctx context.Context, actor model.Actor, orderID string) (model.Order, []model.HistoryEntry, error)

	// Recover re-arms the callbacks of in-flight orders after a restart.
	Recover(ctx context.Context) (int, error)
}

// Archiver projects an order onto the external log.
type Archiver interface {
	Sync(ctx context.Context, orderID string) error
}

type Deps struct {
	Store     store.Store
	Directory directory.Directory
	Sink      notify.Sink
	Archive   Archiver
	Balance   balance.Balance
	Scheduler scheduler.Scheduler
	Policy    escalation.Policy
	Logger    *zap.Logger

	// Spawn runs post-commit side effects. Defaults to a new goroutine.
	Spawn func(fn func())
	// NewID generates order ids. Defaults to random base36 codes.
	NewID func() (string, error)
}

type engine struct {
	cfg       config.Config
	store     store.Store
	directory directory.Directory
	sink      notify.Sink
	archive   Archiver
	balance   balance.Balance
	sched     scheduler.Scheduler
	policy    escalation.Policy
	zaplog    *zap.Logger
	spawn     func(fn func())
	newID     func() (string, error)

	locks  *keylock.Locks
	mu     sync.Mutex
	timers map[string]map[action]*timer
}

func NewEngine(cfg config.Config, deps Deps) Engine {
	engine := engine{
		cfg:       cfg,
		store:     deps.Store,
		directory: deps.Directory,
		sink:      deps.Sink,
		archive:   deps.Archive,
		balance:   deps.Balance,
		sched:     deps.Scheduler,
		policy:    deps.Policy,
		zaplog:    deps.Logger.Named("lifecycle"),
		spawn:     deps.Spawn,
		newID:     deps.NewID,
		locks:     keylock.New(),
		timers:    make(map[string]map[action]*timer),
	}
	if engine.spawn == nil {
		engine.spawn = func(fn func()) { go fn() }
	}
	if engine.newID == nil {
		engine.newID = newOrderID
	}
	return &engine
}

func (engine *engine) capabilities(ctx context.Context, actor model.Actor) (model.Capabilities, error) {
	if actor.ID == "" || actor.ID == model.SystemActorID {
		return model.Capabilities{}, model.ErrPermissionDenied
	}
	caps, err := engine.directory.ResolveCapabilities(ctx, actor.ID)
	if err != nil {
		return model.Capabilities{}, fmt.Errorf("resolve capabilities: %w", err)
	}
	return caps, nil
}

// notSuspended rejects consumer operations from suspended accounts.
func (engine *engine) notSuspended(ctx context.Context, actorID string, now time.Time) error {
	acct, err := store.AccountOrNew(ctx, engine.store, actorID)
	if err != nil {
		return err
	}
	if acct.Suspension.Active(now) {
		return model.ErrSuspended
	}
	return nil
}

func (engine *engine) order(ctx context.Context, id string) (model.Order, error) {
	order, err := engine.store.OrderGet(ctx, id)
	if err != nil {
		return model.Order{}, mapStoreError(err)
	}
	return order, nil
}

// transition commits t and records it.
func (engine *engine) transition(ctx context.Context, t store.Transition) error {
	if t.At.IsZero() {
		t.At = engine.sched.Now()
	}
	if err := engine.store.OrderTransition(ctx, t); err != nil {
		return mapStoreError(err)
	}
	if t.From != t.Order.Status {
		metrics.OrderTransitionsTotal.WithLabelValues(string(t.Order.Status)).Inc()
	}
	engine.zaplog.Info("order transition",
		zap.String("order_id", t.Order.ID),
		zap.String("actor", t.Actor),
		zap.String("from", string(t.From)),
		zap.String("to", string(t.Order.Status)),
		zap.String("note", t.Note))
	return nil
}

func mapStoreError(err error) error {
	switch {
	case errors.Is(err, store.ErrNoRows):
		return model.ErrNotFound
	case errors.Is(err, store.ErrStatusChanged):
		return model.ErrInvalidTransition
	case errors.Is(err, store.ErrDuplicateActive):
		return model.ErrDuplicateActiveOrder
	case errors.Is(err, store.ErrInsufficientFunds):
		return model.ErrInsufficientFunds
	default:
		return err
	}
}

// observe counts a failed operation. Deferred with the named error result.
func observe(operation string, err *error) {
	if *err != nil {
		metrics.OperationErrorsTotal.WithLabelValues(operation).Inc()
	}
}

type outbound struct {
	target notify.Target
	msg    notify.Message
}

// publish delivers notifications and refreshes the archive after a commit.
// Failures are logged, never returned.
func (engine *engine) publish(orderID string, out ...outbound) {
	engine.spawn(func() {
		ctx, cancel := context.WithTimeout(context.Background(), engine.cfg.CallbackTimeout)
		defer cancel()

		for _, o := range out {
			if err := engine.sink.Post(ctx, o.target, o.msg); err != nil {
				metrics.NotifyFailuresTotal.WithLabelValues(o.msg.Kind).Inc()
				engine.zaplog.Warn("notification failed",
					zap.String("order_id", orderID),
					zap.String("kind", o.msg.Kind),
					zap.Error(err))
			}
		}
		if engine.archive == nil {
			return
		}
		if err := engine.archive.Sync(ctx, orderID); err != nil {
			engine.zaplog.Warn("archive sync failed",
				zap.String("order_id", orderID),
				zap.Error(err))
		}
	})
}

func (engine *engine) support(channelID string) notify.Target {
	return notify.Target{GuildID: engine.cfg.SupportGuildID, ChannelID: channelID}
}
