package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iurnickita/sugarrush/internal/balance"
	"github.com/iurnickita/sugarrush/internal/escalation"
	"github.com/iurnickita/sugarrush/internal/metrics"
	"github.com/iurnickita/sugarrush/internal/model"
	"github.com/iurnickita/sugarrush/internal/notify"
	"github.com/iurnickita/sugarrush/internal/store"
)

type DisciplineKind string

const (
	// PrePreparationWarn cancels a pending or claimed order.
	PrePreparationWarn DisciplineKind = "pre_preparation_warn"
	// PreFulfillmentForce cancels an order waiting for a courier.
	PreFulfillmentForce DisciplineKind = "pre_fulfillment_force"
	// PostFulfillmentForce strikes the requester without touching the order.
	PostFulfillmentForce DisciplineKind = "post_fulfillment_force"
)

const maxIDAttempts = 8

func (engine *engine) Submit(ctx context.Context, actor model.Actor, origin model.Origin, item string, priority bool) (_ model.Order, err error) {
	defer observe("submit", &err)

	item = strings.TrimSpace(item)
	if actor.ID == "" || actor.ID == model.SystemActorID || item == "" || len(item) > engine.cfg.MaxItemLength {
		return model.Order{}, model.ErrInvalidInput
	}
	if origin.GuildID != "" {
		blacklisted, err := engine.store.BlacklistHas(ctx, origin.GuildID)
		if err != nil {
			return model.Order{}, err
		}
		if blacklisted {
			return model.Order{}, model.ErrBlacklisted
		}
	}

	// Заказы одного клиента проходят по очереди
	unlock := engine.locks.Lock("requester:" + actor.ID)
	defer unlock()

	now := engine.sched.Now()
	acct, err := store.AccountOrNew(ctx, engine.store, actor.ID)
	if err != nil {
		return model.Order{}, err
	}
	if acct.Suspension.Active(now) {
		return model.Order{}, model.ErrSuspended
	}
	quote, err := engine.balance.Quote(acct, priority, now)
	if err != nil {
		return model.Order{}, err
	}
	if _, err = engine.store.OrderFindActive(ctx, actor.ID); err == nil {
		return model.Order{}, model.ErrDuplicateActiveOrder
	} else if !errors.Is(err, store.ErrNoRows) {
		return model.Order{}, err
	}

	order := model.Order{
		RequesterID: actor.ID,
		Origin:      origin,
		Status:      model.OrderStatusPending,
		Item:        item,
		Priority:    priority,
		Discounted:  quote.Discounted,
		Charged:     quote.Price,
		CreatedAt:   now,
	}
	for attempt := 0; ; attempt++ {
		if attempt == maxIDAttempts {
			return model.Order{}, errors.New("could not allocate a free order id")
		}
		order.ID, err = engine.newID()
		if err != nil {
			return model.Order{}, fmt.Errorf("generate order id: %w", err)
		}
		var exists bool
		exists, err = engine.store.OrderExists(ctx, order.ID)
		if err != nil {
			return model.Order{}, err
		}
		if exists {
			continue
		}
		err = engine.store.OrderCreate(ctx, order, balance.Debit(actor.ID, quote.Price))
		if errors.Is(err, store.ErrAlreadyExists) {
			continue
		}
		if err != nil {
			return model.Order{}, mapStoreError(err)
		}
		break
	}

	metrics.OrdersSubmittedTotal.Inc()
	engine.zaplog.Info("order submitted",
		zap.String("order_id", order.ID),
		zap.String("requester", actor.ID),
		zap.Bool("priority", priority),
		zap.Int("charged", quote.Price))

	title := "New Order"
	if priority {
		title = "New Priority Order"
	}
	engine.publish(order.ID, outbound{
		target: engine.support(engine.cfg.KitchenChannelID),
		msg: notify.Message{
			Kind:      "order_submitted",
			Broadcast: true,
			Title:     title,
			Body:      fmt.Sprintf("ID: `%s`\nItem: %s\nCustomer: <@%s>", order.ID, order.Item, order.RequesterID),
		},
	})
	return order, nil
}

func (engine *engine) Claim(ctx context.Context, actor model.Actor, orderID string) (_ model.Order, err error) {
	defer observe("claim", &err)

	caps, err := engine.capabilities(ctx, actor)
	if err != nil {
		return model.Order{}, err
	}
	if !caps.CanPrepare() {
		return model.Order{}, model.ErrPermissionDenied
	}

	unlock := engine.locks.Lock(orderID)
	defer unlock()

	order, err := engine.order(ctx, orderID)
	if err != nil {
		return model.Order{}, err
	}
	if order.Status != model.OrderStatusPending {
		return model.Order{}, model.ErrInvalidTransition
	}

	next := order.Clone()
	next.Status = model.OrderStatusClaimed
	next.PreparerID = actor.ID
	next.PreparerName = actor.Name
	next.ClaimedAt = engine.sched.Now()
	err = engine.transition(ctx, store.Transition{Order: next, From: order.Status, Actor: actor.ID})
	if err != nil {
		return model.Order{}, err
	}
	engine.arm(next.ID, actionClaimExpiry, model.OrderStatusClaimed, engine.cfg.ClaimWindow)

	engine.publish(next.ID)
	return next, nil
}

func (engine *engine) Unclaim(ctx context.Context, actor model.Actor, orderID string) (_ model.Order, err error) {
	defer observe("unclaim", &err)

	caps, err := engine.capabilities(ctx, actor)
	if err != nil {
		return model.Order{}, err
	}

	unlock := engine.locks.Lock(orderID)
	defer unlock()

	order, err := engine.order(ctx, orderID)
	if err != nil {
		return model.Order{}, err
	}
	if order.Status != model.OrderStatusClaimed {
		return model.Order{}, model.ErrInvalidTransition
	}
	if order.PreparerID != actor.ID && !caps.CanManage() {
		return model.Order{}, model.ErrPermissionDenied
	}

	next := order.Clone()
	next.Status = model.OrderStatusPending
	next.PreparerID = ""
	next.PreparerName = ""
	next.ClaimedAt = time.Time{}
	err = engine.transition(ctx, store.Transition{Order: next, From: order.Status, Actor: actor.ID, Note: "unclaimed"})
	if err != nil {
		return model.Order{}, err
	}
	engine.cancel(next.ID, actionClaimExpiry)

	engine.publish(next.ID)
	return next, nil
}

func (engine *engine) BeginPreparation(ctx context.Context, actor model.Actor, orderID string, proof []string) (_ model.Order, err error) {
	defer observe("begin_preparation", &err)

	if len(proof) == 0 || len(proof) > model.MaxProof {
		return model.Order{}, model.ErrInvalidInput
	}
	for _, p := range proof {
		if strings.TrimSpace(p) == "" {
			return model.Order{}, model.ErrInvalidInput
		}
	}
	caps, err := engine.capabilities(ctx, actor)
	if err != nil {
		return model.Order{}, err
	}
	if !caps.CanPrepare() {
		return model.Order{}, model.ErrPermissionDenied
	}

	unlock := engine.locks.Lock(orderID)
	defer unlock()

	order, err := engine.order(ctx, orderID)
	if err != nil {
		return model.Order{}, err
	}
	if order.Status != model.OrderStatusClaimed {
		return model.Order{}, model.ErrInvalidTransition
	}
	if order.PreparerID != actor.ID {
		return model.Order{}, model.ErrPermissionDenied
	}

	now := engine.sched.Now()
	next := order.Clone()
	next.Status = model.OrderStatusPreparing
	next.PreparingAt = now
	next.Proof = append([]string(nil), proof...)
	err = engine.transition(ctx, store.Transition{
		Order: next,
		From:  order.Status,
		Actor: actor.ID,
		Changes: []store.AccountChange{{
			AccountID: actor.ID,
			Apply: func(acct *model.Account) error {
				step := acct.StatIncrement(now)
				acct.PrepCountWeek += step
				acct.PrepCountTotal += step
				return nil
			},
		}},
	})
	if err != nil {
		return model.Order{}, err
	}
	engine.cancel(next.ID, actionClaimExpiry)
	engine.arm(next.ID, actionReady, model.OrderStatusPreparing, engine.cfg.PrepWindow)

	engine.publish(next.ID)
	return next, nil
}

func (engine *engine) Deliver(ctx context.Context, actor model.Actor, orderID string) (_ model.Order, err error) {
	defer observe("deliver", &err)

	caps, err := engine.capabilities(ctx, actor)
	if err != nil {
		return model.Order{}, err
	}
	if !caps.CanFulfill() {
		return model.Order{}, model.ErrPermissionDenied
	}

	unlock := engine.locks.Lock(orderID)
	defer unlock()

	order, err := engine.order(ctx, orderID)
	if err != nil {
		return model.Order{}, err
	}
	if order.Status != model.OrderStatusReady {
		return model.Order{}, model.ErrInvalidTransition
	}

	engine.handoff(ctx, order, actor)

	now := engine.sched.Now()
	next := order.Clone()
	next.Status = model.OrderStatusDelivered
	next.FulfillerID = actor.ID
	err = engine.transition(ctx, store.Transition{
		Order: next,
		From:  order.Status,
		Actor: actor.ID,
		Changes: []store.AccountChange{{
			AccountID: actor.ID,
			Apply: func(acct *model.Account) error {
				step := acct.StatIncrement(now)
				acct.FulfillCountWeek += step
				acct.FulfillCountTotal += step
				acct.Balance += engine.cfg.FulfillerPayout
				return nil
			},
		}},
	})
	if err != nil {
		return model.Order{}, err
	}
	engine.cancel(next.ID, actionFailsafe)

	engine.publish(next.ID)
	return next, nil
}

// handoff brings the order to the requester before the delivery commits. When
// the origin cannot be reached the greeting goes through the delivery channel
// instead; either way the delivery stands.
func (engine *engine) handoff(ctx context.Context, order model.Order, actor model.Actor) {
	greeting := defaultGreeting(order.ID)
	if acct, err := engine.store.AccountGet(ctx, actor.ID); err == nil && acct.Greeting != "" {
		greeting = acct.Greeting
	}
	msg := notify.Message{
		Kind:    "delivery_handoff",
		Mention: order.RequesterID,
		Title:   "Order delivered",
		Body:    greeting,
	}
	if len(order.Proof) > 0 {
		msg.Image = order.Proof[0]
	}

	hctx, cancel := context.WithTimeout(ctx, engine.cfg.HandoffTimeout)
	defer cancel()
	err := engine.sink.Post(hctx, notify.OriginTarget(order.Origin), msg)
	if err == nil {
		return
	}
	metrics.NotifyFailuresTotal.WithLabelValues(msg.Kind).Inc()
	engine.zaplog.Warn("hand-off failed, using fallback",
		zap.String("order_id", order.ID),
		zap.String("fulfiller", actor.ID),
		zap.Error(err))

	msg.Kind = "delivery_fallback"
	fctx, fcancel := context.WithTimeout(ctx, engine.cfg.HandoffTimeout)
	defer fcancel()
	if err = engine.sink.Post(fctx, engine.support(engine.cfg.DeliveryChannelID), msg); err != nil {
		metrics.NotifyFailuresTotal.WithLabelValues(msg.Kind).Inc()
		engine.zaplog.Warn("delivery fallback failed",
			zap.String("order_id", order.ID),
			zap.Error(err))
	}
}

func (engine *engine) Discipline(ctx context.Context, actor model.Actor, orderID string, kind DisciplineKind, reason string) (_ model.Order, _ escalation.Effect, err error) {
	defer observe("discipline", &err)

	caps, err := engine.capabilities(ctx, actor)
	if err != nil {
		return model.Order{}, escalation.Effect{}, err
	}
	var allowed bool
	switch kind {
	case PrePreparationWarn:
		allowed = caps.CanPrepare() || caps.CanManage()
	case PreFulfillmentForce, PostFulfillmentForce:
		allowed = caps.CanManage()
	default:
		return model.Order{}, escalation.Effect{}, fmt.Errorf("%w: discipline kind %q", model.ErrInvalidInput, kind)
	}
	if !allowed {
		return model.Order{}, escalation.Effect{}, model.ErrPermissionDenied
	}

	unlock := engine.locks.Lock(orderID)
	defer unlock()

	order, err := engine.order(ctx, orderID)
	if err != nil {
		return model.Order{}, escalation.Effect{}, err
	}

	next := order.Clone()
	switch kind {
	case PrePreparationWarn:
		if order.Status != model.OrderStatusPending && order.Status != model.OrderStatusClaimed {
			return model.Order{}, escalation.Effect{}, model.ErrInvalidTransition
		}
		next.Status = model.OrderStatusCancelledByWarn
	case PreFulfillmentForce:
		if order.Status != model.OrderStatusReady {
			return model.Order{}, escalation.Effect{}, model.ErrInvalidTransition
		}
		next.Status = model.OrderStatusCancelledByForce
	}

	now := engine.sched.Now()
	var effect escalation.Effect
	note := string(kind)
	if reason = strings.TrimSpace(reason); reason != "" {
		note += ": " + reason
	}
	err = engine.transition(ctx, store.Transition{
		Order: next,
		From:  order.Status,
		Actor: actor.ID,
		Note:  note,
		Changes: []store.AccountChange{{
			AccountID: order.RequesterID,
			Apply: func(acct *model.Account) error {
				*acct, effect = engine.policy.ApplyStrike(*acct, now)
				return nil
			},
		}},
	})
	if err != nil {
		return model.Order{}, escalation.Effect{}, err
	}
	// force после выдачи не меняет статус, таймеры остаются
	if next.Status != order.Status {
		engine.cancel(next.ID)
	}

	metrics.StrikesTotal.WithLabelValues(string(effect.Kind)).Inc()
	engine.zaplog.Info("strike applied",
		zap.String("order_id", next.ID),
		zap.String("requester", next.RequesterID),
		zap.String("kind", string(kind)),
		zap.Int("strikes", effect.Strikes),
		zap.String("effect", string(effect.Kind)))

	body := fmt.Sprintf("Order `%s`\nReason: %s\nStrikes: %d", next.ID, reasonOrDash(reason), effect.Strikes)
	switch effect.Kind {
	case escalation.EffectTimed:
		body += fmt.Sprintf("\nSuspended until %s", effect.Until.UTC().Format("2006-01-02 15:04 MST"))
	case escalation.EffectPermanent:
		body += "\nPermanently suspended"
	}
	engine.publish(next.ID,
		outbound{
			target: engine.support(engine.cfg.WarningChannelID),
			msg:    notify.Message{Kind: "discipline", Title: "Strike: " + string(kind), Body: body},
		},
		outbound{
			target: notify.OriginTarget(next.Origin),
			msg:    notify.Message{Kind: "discipline", Mention: next.RequesterID, Title: "Order warning", Body: body},
		})
	return next, effect, nil
}

func (engine *engine) Refund(ctx context.Context, actor model.Actor, orderID string) (_ model.Order, err error) {
	defer observe("refund", &err)

	caps, err := engine.capabilities(ctx, actor)
	if err != nil {
		return model.Order{}, err
	}
	if !caps.CanManage() {
		return model.Order{}, model.ErrPermissionDenied
	}

	unlock := engine.locks.Lock(orderID)
	defer unlock()

	order, err := engine.order(ctx, orderID)
	if err != nil {
		return model.Order{}, err
	}
	if order.Status == model.OrderStatusRefunded {
		return model.Order{}, model.ErrAlreadyRefunded
	}
	if !order.Status.Refundable() {
		return model.Order{}, model.ErrInvalidTransition
	}

	next := order.Clone()
	next.Status = model.OrderStatusRefunded
	err = engine.transition(ctx, store.Transition{
		Order:   next,
		From:    order.Status,
		Actor:   actor.ID,
		Changes: []store.AccountChange{balance.Credit(order.RequesterID, order.Charged)},
	})
	if err != nil {
		return model.Order{}, err
	}

	engine.publish(next.ID, outbound{
		target: notify.OriginTarget(next.Origin),
		msg: notify.Message{
			Kind:    "refund",
			Mention: next.RequesterID,
			Title:   "Order refunded",
			Body:    fmt.Sprintf("Order `%s`: %d coins returned.", next.ID, order.Charged),
		},
	})
	return next, nil
}

func reasonOrDash(reason string) string {
	if reason == "" {
		return "-"
	}
	return reason
}
