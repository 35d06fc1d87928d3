package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/iurnickita/sugarrush/internal/balance"
	"github.com/iurnickita/sugarrush/internal/model"
	"github.com/iurnickita/sugarrush/internal/notify"
	"github.com/iurnickita/sugarrush/internal/store"
)

// ActiveOrder is the requester's in-flight order with a rough wait estimate.
type ActiveOrder struct {
	Order      model.Order
	Queue      int
	Staff      int
	ETAMinutes int
	ETA        string
}

func (engine *engine) Rate(ctx context.Context, actor model.Actor, orderID string, stars int) (_ model.Order, err error) {
	defer observe("rate", &err)

	if stars < 1 || stars > 5 {
		return model.Order{}, model.ErrInvalidInput
	}
	if err = engine.notSuspended(ctx, actor.ID, engine.sched.Now()); err != nil {
		return model.Order{}, err
	}

	unlock := engine.locks.Lock(orderID)
	defer unlock()

	order, err := engine.order(ctx, orderID)
	if err != nil {
		return model.Order{}, err
	}
	if order.RequesterID != actor.ID {
		return model.Order{}, model.ErrPermissionDenied
	}
	if order.Status != model.OrderStatusDelivered || order.Rating != 0 {
		return model.Order{}, model.ErrInvalidTransition
	}

	next := order.Clone()
	next.Rating = stars
	err = engine.transition(ctx, store.Transition{
		Order: next,
		From:  order.Status,
		Actor: actor.ID,
		Note:  fmt.Sprintf("rated %d", stars),
	})
	if err != nil {
		return model.Order{}, err
	}
	engine.publish(next.ID)
	return next, nil
}

// Tip moves coins from the requester to the staff of a delivered order. The
// preparer gets the odd coin, and the whole tip when the failsafe delivered.
func (engine *engine) Tip(ctx context.Context, actor model.Actor, orderID string, amount int) (_ model.Order, err error) {
	defer observe("tip", &err)

	if amount <= 0 {
		return model.Order{}, model.ErrInvalidInput
	}
	if err = engine.notSuspended(ctx, actor.ID, engine.sched.Now()); err != nil {
		return model.Order{}, err
	}

	unlock := engine.locks.Lock(orderID)
	defer unlock()

	order, err := engine.order(ctx, orderID)
	if err != nil {
		return model.Order{}, err
	}
	if order.RequesterID != actor.ID {
		return model.Order{}, model.ErrPermissionDenied
	}
	if order.Status != model.OrderStatusDelivered {
		return model.Order{}, model.ErrInvalidTransition
	}

	changes := []store.AccountChange{balance.Debit(actor.ID, amount)}
	toPreparer, toFulfiller := amount, 0
	if order.FulfillerID != "" && order.FulfillerID != model.SystemActorID {
		toFulfiller = amount / 2
		toPreparer = amount - toFulfiller
	}
	if order.PreparerID != "" {
		changes = append(changes, balance.Credit(order.PreparerID, toPreparer))
	}
	if toFulfiller > 0 {
		changes = append(changes, balance.Credit(order.FulfillerID, toFulfiller))
	}

	err = engine.transition(ctx, store.Transition{
		Order:   order,
		From:    order.Status,
		Actor:   actor.ID,
		Note:    fmt.Sprintf("tip %d", amount),
		Changes: changes,
	})
	if err != nil {
		return model.Order{}, err
	}

	engine.publish(order.ID, outbound{
		target: engine.support(engine.cfg.KitchenChannelID),
		msg: notify.Message{
			Kind:  "tip",
			Title: "Tip received",
			Body:  fmt.Sprintf("Order `%s`: %d coins from <@%s>.", order.ID, amount, actor.ID),
		},
	})
	return order, nil
}

// Active returns the requester's in-flight order. The estimate spreads the
// whole queue over everyone holding a kitchen or courier role.
func (engine *engine) Active(ctx context.Context, actor model.Actor) (_ ActiveOrder, err error) {
	defer observe("active", &err)

	order, err := engine.store.OrderFindActive(ctx, actor.ID)
	if err != nil {
		return ActiveOrder{}, mapStoreError(err)
	}
	queue, err := engine.store.OrderCountActive(ctx)
	if err != nil {
		return ActiveOrder{}, err
	}

	staff := 0
	for _, role := range []model.Role{model.RolePreparer, model.RoleFulfiller} {
		holders, err := engine.directory.ListRoleHolders(ctx, role)
		if err != nil {
			return ActiveOrder{}, fmt.Errorf("list %s holders: %w", role, err)
		}
		staff += len(holders)
	}

	minutes, eta := estimate(queue, staff, engine.cfg.MinutesPerOrder)
	return ActiveOrder{Order: order, Queue: queue, Staff: staff, ETAMinutes: minutes, ETA: eta}, nil
}

func estimate(queue, staff, perOrder int) (int, string) {
	if staff < 1 {
		staff = 1
	}
	work := (queue + 1) * perOrder
	minutes := (work + staff - 1) / staff
	if minutes < 15 {
		return minutes, "15 - 30 Minutes"
	}
	return minutes, fmt.Sprintf("%d Minutes", minutes)
}

// Lookup is the manager view of one order and its status history.
func (engine *engine) Lookup(ctx context.Context, actor model.Actor, orderID string) (_ model.Order, _ []model.HistoryEntry, err error) {
	defer observe("lookup", &err)

	caps, err := engine.capabilities(ctx, actor)
	if err != nil {
		return model.Order{}, nil, err
	}
	if !caps.CanManage() {
		return model.Order{}, nil, model.ErrPermissionDenied
	}

	order, err := engine.order(ctx, orderID)
	if err != nil {
		return model.Order{}, nil, err
	}
	history, err := engine.store.OrderHistory(ctx, orderID)
	if err != nil && !errors.Is(err, store.ErrNoRows) {
		return model.Order{}, nil, err
	}
	return order, history, nil
}
