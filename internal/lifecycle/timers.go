package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iurnickita/sugarrush/internal/balance"
	"github.com/iurnickita/sugarrush/internal/metrics"
	"github.com/iurnickita/sugarrush/internal/model"
	"github.com/iurnickita/sugarrush/internal/notify"
	"github.com/iurnickita/sugarrush/internal/scheduler"
	"github.com/iurnickita/sugarrush/internal/store"
)

type action string

const (
	actionClaimExpiry action = "claim_expiry"
	actionReady       action = "auto_ready"
	actionFailsafe    action = "failsafe"
)

// timer is one armed callback. It fires only while the order still sits in
// expected.
type timer struct {
	handle   scheduler.Handle
	expected model.OrderStatus
}

var errGuardMismatch = errors.New("order left the expected status")

// arm schedules act for the order, replacing a previous timer of the same
// action.
func (engine *engine) arm(orderID string, act action, expected model.OrderStatus, d time.Duration) {
	if d < 0 {
		d = 0
	}
	t := &timer{expected: expected}

	engine.mu.Lock()
	defer engine.mu.Unlock()

	if prev, ok := engine.timers[orderID][act]; ok {
		engine.sched.Cancel(prev.handle)
		metrics.PendingCallbacks.Dec()
	}
	t.handle = engine.sched.After(d, func() { engine.fire(orderID, act, t) })
	if engine.timers[orderID] == nil {
		engine.timers[orderID] = make(map[action]*timer)
	}
	engine.timers[orderID][act] = t
	metrics.PendingCallbacks.Inc()
}

// cancel is advisory: a callback already running still hits its guard.
func (engine *engine) cancel(orderID string, acts ...action) {
	engine.mu.Lock()
	defer engine.mu.Unlock()

	timers := engine.timers[orderID]
	if len(acts) == 0 {
		for act := range timers {
			acts = append(acts, act)
		}
	}
	for _, act := range acts {
		t, ok := timers[act]
		if !ok {
			continue
		}
		engine.sched.Cancel(t.handle)
		delete(timers, act)
		metrics.PendingCallbacks.Dec()
	}
	if len(timers) == 0 {
		delete(engine.timers, orderID)
	}
}

func (engine *engine) fire(orderID string, act action, t *timer) {
	engine.mu.Lock()
	if cur, ok := engine.timers[orderID][act]; ok && cur == t {
		delete(engine.timers[orderID], act)
		if len(engine.timers[orderID]) == 0 {
			delete(engine.timers, orderID)
		}
		metrics.PendingCallbacks.Dec()
	}
	engine.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			metrics.CallbacksTotal.WithLabelValues(string(act), "error").Inc()
			engine.zaplog.Error("callback panic",
				zap.String("order_id", orderID),
				zap.String("action", string(act)),
				zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), engine.cfg.CallbackTimeout)
	defer cancel()

	unlock := engine.locks.Lock(orderID)
	order, out, err := engine.applyCallback(ctx, orderID, act, t.expected)
	unlock()

	switch {
	case errors.Is(err, errGuardMismatch):
		metrics.CallbacksTotal.WithLabelValues(string(act), "noop").Inc()
		engine.zaplog.Debug("callback skipped",
			zap.String("order_id", orderID),
			zap.String("action", string(act)),
			zap.String("expected", string(t.expected)))
		return
	case err != nil:
		metrics.CallbacksTotal.WithLabelValues(string(act), "error").Inc()
		engine.zaplog.Error("callback failed",
			zap.String("order_id", orderID),
			zap.String("action", string(act)),
			zap.Error(err))
		return
	}
	metrics.CallbacksTotal.WithLabelValues(string(act), "applied").Inc()
	engine.publish(order.ID, out...)
}

// applyCallback must be called under the order lock.
func (engine *engine) applyCallback(ctx context.Context, orderID string, act action, expected model.OrderStatus) (model.Order, []outbound, error) {
	order, err := engine.order(ctx, orderID)
	if err != nil {
		return model.Order{}, nil, err
	}
	if order.Status != expected {
		return model.Order{}, nil, errGuardMismatch
	}

	now := engine.sched.Now()
	next := order.Clone()
	t := store.Transition{From: expected, Actor: model.SystemActorID}
	var out []outbound

	switch act {
	case actionClaimExpiry:
		next.Status = model.OrderStatusPending
		next.PreparerID = ""
		next.PreparerName = ""
		next.ClaimedAt = time.Time{}
		t.Note = "claim expired"
		out = append(out, outbound{
			target: engine.support(engine.cfg.KitchenChannelID),
			msg: notify.Message{
				Kind:  "claim_expired",
				Title: "Order back in queue",
				Body:  fmt.Sprintf("Order `%s` was not started in time and is open again.", order.ID),
			},
		})
	case actionReady:
		next.Status = model.OrderStatusReady
		next.ReadyAt = now
		if next.PreparerID != "" && next.PreparerID != model.SystemActorID {
			t.Changes = append(t.Changes, balance.Credit(next.PreparerID, engine.cfg.PreparerPayout))
		}
		out = append(out,
			outbound{
				target: engine.support(engine.cfg.DeliveryChannelID),
				msg: notify.Message{
					Kind:      "order_ready",
					Broadcast: true,
					Title:     "Order Ready",
					Body:      fmt.Sprintf("ID: `%s`\nChef: %s", order.ID, order.PreparerName),
				},
			},
			outbound{
				target: notify.OriginTarget(order.Origin),
				msg: notify.Message{
					Kind:    "order_ready",
					Mention: order.RequesterID,
					Title:   "Your order is ready",
					Body:    fmt.Sprintf("Order `%s` is waiting for a courier.", order.ID),
				},
			})
	case actionFailsafe:
		next.Status = model.OrderStatusDelivered
		next.FulfillerID = model.SystemActorID
		t.Note = "failsafe"
		msg := notify.Message{
			Kind:    "failsafe_delivery",
			Mention: order.RequesterID,
			Title:   "Order delivered",
			Body:    defaultGreeting(order.ID),
		}
		if len(order.Proof) > 0 {
			msg.Image = order.Proof[0]
			msg.Body += "\n" + strings.Join(order.Proof, "\n")
		}
		out = append(out, outbound{target: notify.OriginTarget(order.Origin), msg: msg})
	default:
		return model.Order{}, nil, fmt.Errorf("unknown callback action %q", act)
	}

	t.Order = next
	if err = engine.transition(ctx, t); err != nil {
		if errors.Is(err, model.ErrInvalidTransition) {
			return model.Order{}, nil, errGuardMismatch
		}
		return model.Order{}, nil, err
	}
	if act == actionReady {
		engine.arm(next.ID, actionFailsafe, model.OrderStatusReady, engine.cfg.FailsafeWindow)
	}
	return next, out, nil
}

// Recover re-arms callbacks for every in-flight order with whatever remains
// of its window. Overdue callbacks fire on the next tick.
func (engine *engine) Recover(ctx context.Context) (int, error) {
	orders, err := engine.store.OrderFindByStatus(ctx,
		model.OrderStatusClaimed,
		model.OrderStatusPreparing,
		model.OrderStatusReady)
	if err != nil {
		return 0, fmt.Errorf("scan in-flight orders: %w", err)
	}

	now := engine.sched.Now()
	remaining := func(since time.Time, window time.Duration) time.Duration {
		if since.IsZero() {
			return window
		}
		return since.Add(window).Sub(now)
	}
	for _, order := range orders {
		switch order.Status {
		case model.OrderStatusClaimed:
			engine.arm(order.ID, actionClaimExpiry, order.Status, remaining(order.ClaimedAt, engine.cfg.ClaimWindow))
		case model.OrderStatusPreparing:
			engine.arm(order.ID, actionReady, order.Status, remaining(order.PreparingAt, engine.cfg.PrepWindow))
		case model.OrderStatusReady:
			engine.arm(order.ID, actionFailsafe, order.Status, remaining(order.ReadyAt, engine.cfg.FailsafeWindow))
		}
	}
	engine.zaplog.Info("callbacks recovered", zap.Int("orders", len(orders)))
	return len(orders), nil
}

func defaultGreeting(orderID string) string {
	return fmt.Sprintf("Enjoy your Sugar Rush! Rate us with `/rate %s`.", orderID)
}
