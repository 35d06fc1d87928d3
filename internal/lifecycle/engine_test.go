package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iurnickita/sugarrush/internal/archive"
	"github.com/iurnickita/sugarrush/internal/balance"
	balanceconfig "github.com/iurnickita/sugarrush/internal/balance/config"
	"github.com/iurnickita/sugarrush/internal/directory"
	"github.com/iurnickita/sugarrush/internal/escalation"
	"github.com/iurnickita/sugarrush/internal/lifecycle/config"
	"github.com/iurnickita/sugarrush/internal/model"
	"github.com/iurnickita/sugarrush/internal/notify"
	"github.com/iurnickita/sugarrush/internal/scheduler"
	"github.com/iurnickita/sugarrush/internal/store"
)

var start = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

var (
	requester = model.Actor{ID: "u1", Name: "alice"}
	cook      = model.Actor{ID: "cook", Name: "chef"}
	cook2     = model.Actor{ID: "cook2", Name: "sous"}
	courier   = model.Actor{ID: "courier", Name: "rider"}
	boss      = model.Actor{ID: "boss", Name: "boss"}
	origin    = model.Origin{GuildID: "g1", ChannelID: "c1"}
)

// recordSink запоминает все сообщения; каналы из failChannels отвечают ошибкой
type recordSink struct {
	mu           sync.Mutex
	posts        []notify.Message
	targets      []notify.Target
	entries      map[string]notify.Snapshot
	failChannels map[string]bool
}

func newRecordSink() *recordSink {
	return &recordSink{entries: map[string]notify.Snapshot{}, failChannels: map[string]bool{}}
}

func (s *recordSink) Post(_ context.Context, target notify.Target, msg notify.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failChannels[target.ChannelID] {
		return errors.New("channel unreachable")
	}
	s.posts = append(s.posts, msg)
	s.targets = append(s.targets, target)
	return nil
}

func (s *recordSink) EditOrCreateLogEntry(_ context.Context, handle string, snap notify.Snapshot) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if handle == "" {
		handle = "log-" + snap.OrderID
	}
	s.entries[handle] = snap
	return handle, nil
}

func (s *recordSink) count(kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, msg := range s.posts {
		if msg.Kind == kind {
			n++
		}
	}
	return n
}

func (s *recordSink) last(kind string) (notify.Target, notify.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.posts) - 1; i >= 0; i-- {
		if s.posts[i].Kind == kind {
			return s.targets[i], s.posts[i], true
		}
	}
	return notify.Target{}, notify.Message{}, false
}

type fixture struct {
	engine Engine
	store  *store.MemStore
	dir    *directory.Static
	sink   *recordSink
	clock  *scheduler.Manual
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		store: store.NewMemStore(),
		dir:   directory.NewStatic("owner"),
		sink:  newRecordSink(),
		clock: scheduler.NewManual(start),
	}
	require.NoError(t, f.dir.GrantRole(ctx, cook.ID, model.RolePreparer))
	require.NoError(t, f.dir.GrantRole(ctx, cook2.ID, model.RolePreparer))
	require.NoError(t, f.dir.GrantRole(ctx, courier.ID, model.RoleFulfiller))
	require.NoError(t, f.dir.GrantRole(ctx, boss.ID, model.RoleManager))
	f.engine = f.build()
	return f
}

func (f *fixture) build() Engine {
	zaplog := zap.NewNop()
	return NewEngine(config.Default(), Deps{
		Store:     f.store,
		Directory: f.dir,
		Sink:      f.sink,
		Archive:   archive.NewSyncer(f.store, f.sink, f.clock, zaplog),
		Balance:   balance.NewBalance(balanceconfig.Default(), f.store, f.dir, f.clock, zaplog),
		Scheduler: f.clock,
		Policy:    escalation.DefaultPolicy(),
		Logger:    zaplog,
		Spawn:     func(fn func()) { fn() },
	})
}

func (f *fixture) fund(t *testing.T, id string, amount int) {
	t.Helper()
	_, err := f.store.AccountUpdate(context.Background(), id, balance.Credit(id, amount).Apply)
	require.NoError(t, err)
}

func (f *fixture) account(t *testing.T, id string) model.Account {
	t.Helper()
	acct, err := store.AccountOrNew(context.Background(), f.store, id)
	require.NoError(t, err)
	return acct
}

func (f *fixture) status(t *testing.T, id string) model.OrderStatus {
	t.Helper()
	order, err := f.store.OrderGet(context.Background(), id)
	require.NoError(t, err)
	return order.Status
}

// toReady submits an order and walks it to ready through the prep timer.
func (f *fixture) toReady(t *testing.T) model.Order {
	t.Helper()
	ctx := context.Background()
	f.fund(t, requester.ID, 100)
	order, err := f.engine.Submit(ctx, requester, origin, "glazed donut", false)
	require.NoError(t, err)
	_, err = f.engine.Claim(ctx, cook, order.ID)
	require.NoError(t, err)
	_, err = f.engine.BeginPreparation(ctx, cook, order.ID, []string{"https://img/1.png"})
	require.NoError(t, err)
	f.clock.Advance(3 * time.Minute)
	require.Equal(t, model.OrderStatusReady, f.status(t, order.ID))
	return order
}

func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fund(t, requester.ID, 100)

	order, err := f.engine.Submit(ctx, requester, origin, "glazed donut", false)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPending, order.Status)
	assert.Len(t, order.ID, 6)
	assert.Equal(t, 100, order.Charged)
	assert.Equal(t, 0, f.account(t, requester.ID).Balance)
	assert.Equal(t, 1, f.sink.count("order_submitted"))

	claimed, err := f.engine.Claim(ctx, cook, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusClaimed, claimed.Status)
	assert.Equal(t, "chef", claimed.PreparerName)
	assert.Equal(t, start, claimed.ClaimedAt)

	preparing, err := f.engine.BeginPreparation(ctx, cook, order.ID, []string{"https://img/1.png"})
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPreparing, preparing.Status)
	assert.Equal(t, 1, f.account(t, cook.ID).PrepCountWeek)
	assert.Equal(t, 1, f.account(t, cook.ID).PrepCountTotal)

	f.clock.Advance(3 * time.Minute)
	ready, err := f.store.OrderGet(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusReady, ready.Status)
	assert.Equal(t, start.Add(3*time.Minute), ready.ReadyAt)
	assert.Equal(t, 20, f.account(t, cook.ID).Balance)
	assert.Equal(t, 2, f.sink.count("order_ready"))

	delivered, err := f.engine.Deliver(ctx, courier, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusDelivered, delivered.Status)
	assert.Equal(t, courier.ID, delivered.FulfillerID)

	courierAcct := f.account(t, courier.ID)
	assert.Equal(t, 30, courierAcct.Balance)
	assert.Equal(t, 1, courierAcct.FulfillCountWeek)
	assert.Equal(t, 1, f.sink.count("delivery_handoff"))

	_, err = f.store.OrderFindActive(ctx, requester.ID)
	require.ErrorIs(t, err, store.ErrNoRows)
	assert.Equal(t, 0, f.clock.Pending())

	final, err := f.store.OrderGet(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "log-"+order.ID, final.ArchiveHandle)
	assert.Equal(t, "delivered", f.sink.entries[final.ArchiveHandle].Status)

	history, err := f.store.OrderHistory(ctx, order.ID)
	require.NoError(t, err)
	var statuses []model.OrderStatus
	for _, h := range history {
		statuses = append(statuses, h.Status)
	}
	assert.Equal(t, []model.OrderStatus{
		model.OrderStatusPending,
		model.OrderStatusClaimed,
		model.OrderStatusPreparing,
		model.OrderStatusReady,
		model.OrderStatusDelivered,
	}, statuses)
}

func TestConcurrentClaims(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fund(t, requester.ID, 100)
	order, err := f.engine.Submit(ctx, requester, origin, "cookie", false)
	require.NoError(t, err)

	const n = 32
	for i := 0; i < n; i++ {
		require.NoError(t, f.dir.GrantRole(ctx, fmt.Sprintf("p%d", i), model.RolePreparer))
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.engine.Claim(ctx, model.Actor{ID: fmt.Sprintf("p%d", i)}, order.ID)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, model.ErrInvalidTransition)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, f.clock.Pending())
}

func TestPrepTimerNoopAfterStatusLeft(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fund(t, requester.ID, 100)
	order, err := f.engine.Submit(ctx, requester, origin, "cake", false)
	require.NoError(t, err)
	_, err = f.engine.Claim(ctx, cook, order.ID)
	require.NoError(t, err)
	preparing, err := f.engine.BeginPreparation(ctx, cook, order.ID, []string{"p1", "p2"})
	require.NoError(t, err)

	// заказ ушел из preparing в обход движка, таймер не отменен
	moved := preparing.Clone()
	moved.Status = model.OrderStatusCancelledByForce
	require.NoError(t, f.store.OrderTransition(ctx, store.Transition{Order: moved, From: model.OrderStatusPreparing}))

	f.clock.Advance(10 * time.Minute)
	assert.Equal(t, model.OrderStatusCancelledByForce, f.status(t, order.ID))
	assert.Equal(t, 0, f.sink.count("order_ready"))
	assert.Equal(t, 0, f.account(t, cook.ID).Balance)
	assert.Equal(t, 0, f.clock.Pending())
}

func TestClaimTimerNoopAfterWarn(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fund(t, requester.ID, 100)
	order, err := f.engine.Submit(ctx, requester, origin, "cake", false)
	require.NoError(t, err)
	_, err = f.engine.Claim(ctx, cook, order.ID)
	require.NoError(t, err)

	warned, effect, err := f.engine.Discipline(ctx, cook, order.ID, PrePreparationWarn, "troll order")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCancelledByWarn, warned.Status)
	assert.Equal(t, 1, effect.Strikes)
	assert.Equal(t, escalation.EffectNone, effect.Kind)
	assert.Equal(t, 0, f.clock.Pending())

	f.clock.Advance(10 * time.Minute)
	assert.Equal(t, model.OrderStatusCancelledByWarn, f.status(t, order.ID))
	assert.Equal(t, 0, f.sink.count("claim_expired"))
	assert.Equal(t, 1, f.account(t, requester.ID).StrikeCount)
	assert.Equal(t, 2, f.sink.count("discipline"))
}

func TestClaimExpiry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fund(t, requester.ID, 100)
	order, err := f.engine.Submit(ctx, requester, origin, "pie", false)
	require.NoError(t, err)
	_, err = f.engine.Claim(ctx, cook, order.ID)
	require.NoError(t, err)

	f.clock.Advance(4 * time.Minute)
	expired, err := f.store.OrderGet(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPending, expired.Status)
	assert.Empty(t, expired.PreparerID)
	assert.True(t, expired.ClaimedAt.IsZero())
	assert.Equal(t, 1, f.sink.count("claim_expired"))

	_, err = f.engine.Claim(ctx, cook2, order.ID)
	require.NoError(t, err)
}

func TestUnclaim(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fund(t, requester.ID, 100)
	order, err := f.engine.Submit(ctx, requester, origin, "pie", false)
	require.NoError(t, err)

	_, err = f.engine.Unclaim(ctx, cook, order.ID)
	require.ErrorIs(t, err, model.ErrInvalidTransition)

	_, err = f.engine.Claim(ctx, cook, order.ID)
	require.NoError(t, err)
	_, err = f.engine.Unclaim(ctx, cook2, order.ID)
	require.ErrorIs(t, err, model.ErrPermissionDenied)
	_, err = f.engine.BeginPreparation(ctx, cook2, order.ID, []string{"x"})
	require.ErrorIs(t, err, model.ErrPermissionDenied)

	back, err := f.engine.Unclaim(ctx, boss, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPending, back.Status)
	assert.Equal(t, 0, f.clock.Pending())

	f.clock.Advance(5 * time.Minute)
	assert.Equal(t, 0, f.sink.count("claim_expired"))
}

func TestBeginPreparationValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fund(t, requester.ID, 100)
	order, err := f.engine.Submit(ctx, requester, origin, "pie", false)
	require.NoError(t, err)
	_, err = f.engine.Claim(ctx, cook, order.ID)
	require.NoError(t, err)

	_, err = f.engine.BeginPreparation(ctx, cook, order.ID, nil)
	require.ErrorIs(t, err, model.ErrInvalidInput)
	_, err = f.engine.BeginPreparation(ctx, cook, order.ID, []string{"1", "2", "3", "4"})
	require.ErrorIs(t, err, model.ErrInvalidInput)
	_, err = f.engine.BeginPreparation(ctx, courier, order.ID, []string{"1"})
	require.ErrorIs(t, err, model.ErrPermissionDenied)

	// двойной счет под перком
	_, err = f.store.AccountUpdate(ctx, cook.ID, func(acct *model.Account) error {
		acct.PerkUntil = start.Add(time.Hour)
		return nil
	})
	require.NoError(t, err)
	prepared, err := f.engine.BeginPreparation(ctx, cook, order.ID, []string{"1", "2", "3"})
	require.NoError(t, err)
	assert.Len(t, prepared.Proof, 3)
	assert.Equal(t, 2, f.account(t, cook.ID).PrepCountWeek)
}

func TestFailsafe(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	order := f.toReady(t)

	f.clock.Advance(19 * time.Minute)
	assert.Equal(t, model.OrderStatusReady, f.status(t, order.ID))

	f.clock.Advance(time.Minute)
	done, err := f.store.OrderGet(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusDelivered, done.Status)
	assert.Equal(t, model.SystemActorID, done.FulfillerID)

	_, err = f.store.AccountGet(ctx, model.SystemActorID)
	require.ErrorIs(t, err, store.ErrNoRows)

	target, msg, ok := f.sink.last("failsafe_delivery")
	require.True(t, ok)
	assert.Equal(t, "c1", target.ChannelID)
	assert.Equal(t, "https://img/1.png", msg.Image)

	_, err = f.engine.Deliver(ctx, courier, order.ID)
	require.ErrorIs(t, err, model.ErrInvalidTransition)
	assert.Equal(t, 0, f.account(t, courier.ID).Balance)
}

func TestDeliverFallback(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	order := f.toReady(t)

	_, err := f.store.AccountUpdate(ctx, courier.ID, func(acct *model.Account) error {
		acct.Greeting = "Fresh from the oven!"
		return nil
	})
	require.NoError(t, err)
	f.sink.failChannels[origin.ChannelID] = true

	delivered, err := f.engine.Deliver(ctx, courier, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusDelivered, delivered.Status)
	assert.Equal(t, 30, f.account(t, courier.ID).Balance)

	target, msg, ok := f.sink.last("delivery_fallback")
	require.True(t, ok)
	assert.Equal(t, "delivery", target.ChannelID)
	assert.Equal(t, "Fresh from the oven!", msg.Body)
	assert.Equal(t, requester.ID, msg.Mention)
}

func TestDeliverRequiresFulfiller(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	order := f.toReady(t)

	_, err := f.engine.Deliver(ctx, cook, order.ID)
	require.ErrorIs(t, err, model.ErrPermissionDenied)
	_, err = f.engine.Deliver(ctx, courier, "nope00")
	require.ErrorIs(t, err, model.ErrNotFound)

	owner := model.Actor{ID: "owner"}
	_, err = f.engine.Deliver(ctx, owner, order.ID)
	require.NoError(t, err)
}

func TestRefundIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	order := f.toReady(t)

	_, err := f.engine.Refund(ctx, boss, order.ID)
	require.ErrorIs(t, err, model.ErrInvalidTransition)

	_, err = f.engine.Deliver(ctx, courier, order.ID)
	require.NoError(t, err)

	_, err = f.engine.Refund(ctx, cook, order.ID)
	require.ErrorIs(t, err, model.ErrPermissionDenied)

	refunded, err := f.engine.Refund(ctx, boss, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusRefunded, refunded.Status)
	assert.Equal(t, 100, f.account(t, requester.ID).Balance)

	_, err = f.engine.Refund(ctx, boss, order.ID)
	require.ErrorIs(t, err, model.ErrAlreadyRefunded)
	assert.Equal(t, 100, f.account(t, requester.ID).Balance)
}

func TestDisciplineKinds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	order := f.toReady(t)

	_, _, err := f.engine.Discipline(ctx, cook, order.ID, PreFulfillmentForce, "")
	require.ErrorIs(t, err, model.ErrPermissionDenied)
	_, _, err = f.engine.Discipline(ctx, boss, order.ID, PrePreparationWarn, "")
	require.ErrorIs(t, err, model.ErrInvalidTransition)
	_, _, err = f.engine.Discipline(ctx, boss, order.ID, DisciplineKind("shout"), "")
	require.ErrorIs(t, err, model.ErrInvalidInput)

	forced, effect, err := f.engine.Discipline(ctx, boss, order.ID, PreFulfillmentForce, "abuse")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCancelledByForce, forced.Status)
	assert.Equal(t, 1, effect.Strikes)
	assert.Equal(t, 0, f.clock.Pending())

	// failsafe is gone with the cancelled order
	f.clock.Advance(30 * time.Minute)
	assert.Equal(t, model.OrderStatusCancelledByForce, f.status(t, order.ID))

	post, effect, err := f.engine.Discipline(ctx, boss, order.ID, PostFulfillmentForce, "chargeback")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCancelledByForce, post.Status)
	assert.Equal(t, 2, effect.Strikes)

	history, err := f.store.OrderHistory(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "post_fulfillment_force: chargeback", history[len(history)-1].Note)
}

func TestPostFulfillmentForceKeepsTimers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fund(t, requester.ID, 200)

	order, err := f.engine.Submit(ctx, requester, origin, "cruller", false)
	require.NoError(t, err)
	_, err = f.engine.Claim(ctx, cook, order.ID)
	require.NoError(t, err)
	_, err = f.engine.BeginPreparation(ctx, cook, order.ID, []string{"https://img/1.png"})
	require.NoError(t, err)

	forced, effect, err := f.engine.Discipline(ctx, boss, order.ID, PostFulfillmentForce, "rude")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPreparing, forced.Status)
	assert.Equal(t, 1, effect.Strikes)
	assert.Equal(t, 1, f.clock.Pending())

	f.clock.Advance(3 * time.Minute)
	assert.Equal(t, model.OrderStatusReady, f.status(t, order.ID))
	f.clock.Advance(20 * time.Minute)
	assert.Equal(t, model.OrderStatusDelivered, f.status(t, order.ID))

	_, err = f.engine.Submit(ctx, requester, origin, "bear claw", false)
	require.NoError(t, err)
}

func TestStrikesEscalateAcrossOrders(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fund(t, requester.ID, 1000)

	var effect escalation.Effect
	for i := 0; i < 3; i++ {
		order, err := f.engine.Submit(ctx, requester, origin, "spam", false)
		require.NoError(t, err)
		_, effect, err = f.engine.Discipline(ctx, cook, order.ID, PrePreparationWarn, "spam")
		require.NoError(t, err)
	}
	assert.Equal(t, escalation.EffectTimed, effect.Kind)
	assert.Equal(t, start.Add(7*24*time.Hour), effect.Until)

	_, err := f.engine.Submit(ctx, requester, origin, "again", false)
	require.ErrorIs(t, err, model.ErrSuspended)
	assert.Equal(t, 700, f.account(t, requester.ID).Balance)
}

func TestSubmitRejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.engine.Submit(ctx, requester, origin, "donut", false)
	require.ErrorIs(t, err, model.ErrInsufficientFunds)
	_, err = f.store.OrderFindActive(ctx, requester.ID)
	require.ErrorIs(t, err, store.ErrNoRows)

	_, err = f.engine.Submit(ctx, requester, origin, "   ", false)
	require.ErrorIs(t, err, model.ErrInvalidInput)

	f.fund(t, requester.ID, 300)
	_, err = f.engine.Submit(ctx, requester, origin, "donut", true)
	require.NoError(t, err)
	assert.Equal(t, 150, f.account(t, requester.ID).Balance)

	_, err = f.engine.Submit(ctx, requester, origin, "second", false)
	require.ErrorIs(t, err, model.ErrDuplicateActiveOrder)
	assert.Equal(t, 150, f.account(t, requester.ID).Balance)

	require.NoError(t, f.store.BlacklistAdd(ctx, "bad-guild", "raids"))
	_, err = f.engine.Submit(ctx, model.Actor{ID: "u2"}, model.Origin{GuildID: "bad-guild"}, "donut", false)
	require.ErrorIs(t, err, model.ErrBlacklisted)

	_, err = f.store.AccountUpdate(ctx, "vip", func(acct *model.Account) error {
		acct.Balance = 1000
		acct.MembershipUntil = start.Add(time.Hour)
		return nil
	})
	require.NoError(t, err)
	_, err = f.engine.Submit(ctx, model.Actor{ID: "vip"}, origin, "donut", true)
	require.ErrorIs(t, err, model.ErrPriorityRestricted)
	vipOrder, err := f.engine.Submit(ctx, model.Actor{ID: "vip"}, origin, "donut", false)
	require.NoError(t, err)
	assert.True(t, vipOrder.Discounted)
	assert.Equal(t, 50, vipOrder.Charged)
}

func TestSubmitRetriesTakenID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.OrderCreate(ctx, model.Order{ID: "aaaaaa", RequesterID: "other", Status: model.OrderStatusDelivered}))

	ids := []string{"aaaaaa", "bbbbbb"}
	zaplog := zap.NewNop()
	engine := NewEngine(config.Default(), Deps{
		Store:     f.store,
		Directory: f.dir,
		Sink:      f.sink,
		Balance:   balance.NewBalance(balanceconfig.Default(), f.store, f.dir, f.clock, zaplog),
		Scheduler: f.clock,
		Policy:    escalation.DefaultPolicy(),
		Logger:    zaplog,
		Spawn:     func(fn func()) { fn() },
		NewID: func() (string, error) {
			id := ids[0]
			ids = ids[1:]
			return id, nil
		},
	})
	f.fund(t, requester.ID, 100)
	order, err := engine.Submit(ctx, requester, origin, "donut", false)
	require.NoError(t, err)
	assert.Equal(t, "bbbbbb", order.ID)
}

func TestRateAndTip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	order := f.toReady(t)

	_, err := f.engine.Rate(ctx, requester, order.ID, 5)
	require.ErrorIs(t, err, model.ErrInvalidTransition)
	_, err = f.engine.Deliver(ctx, courier, order.ID)
	require.NoError(t, err)

	_, err = f.engine.Rate(ctx, cook, order.ID, 5)
	require.ErrorIs(t, err, model.ErrPermissionDenied)
	_, err = f.engine.Rate(ctx, requester, order.ID, 6)
	require.ErrorIs(t, err, model.ErrInvalidInput)
	rated, err := f.engine.Rate(ctx, requester, order.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, rated.Rating)
	_, err = f.engine.Rate(ctx, requester, order.ID, 5)
	require.ErrorIs(t, err, model.ErrInvalidTransition)

	_, err = f.engine.Tip(ctx, requester, order.ID, 11)
	require.ErrorIs(t, err, model.ErrInsufficientFunds)

	f.fund(t, requester.ID, 11)
	_, err = f.engine.Tip(ctx, requester, order.ID, 11)
	require.NoError(t, err)
	assert.Equal(t, 0, f.account(t, requester.ID).Balance)
	assert.Equal(t, 20+6, f.account(t, cook.ID).Balance)
	assert.Equal(t, 30+5, f.account(t, courier.ID).Balance)
}

func TestTipAfterFailsafeGoesToPreparer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	order := f.toReady(t)
	f.clock.Advance(20 * time.Minute)

	f.fund(t, requester.ID, 10)
	_, err := f.engine.Tip(ctx, requester, order.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, 30, f.account(t, cook.ID).Balance)
	_, err = f.store.AccountGet(ctx, model.SystemActorID)
	require.ErrorIs(t, err, store.ErrNoRows)
}

func TestActiveAndLookup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.engine.Active(ctx, requester)
	require.ErrorIs(t, err, model.ErrNotFound)

	f.fund(t, requester.ID, 100)
	order, err := f.engine.Submit(ctx, requester, origin, "tart", false)
	require.NoError(t, err)

	active, err := f.engine.Active(ctx, requester)
	require.NoError(t, err)
	assert.Equal(t, order.ID, active.Order.ID)
	assert.Equal(t, 1, active.Queue)
	assert.Equal(t, 3, active.Staff)
	assert.Equal(t, 27, active.ETAMinutes)
	assert.Equal(t, "27 Minutes", active.ETA)

	_, _, err = f.engine.Lookup(ctx, cook, order.ID)
	require.ErrorIs(t, err, model.ErrPermissionDenied)
	found, history, err := f.engine.Lookup(ctx, boss, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, found.ID)
	require.Len(t, history, 1)
	assert.Equal(t, requester.ID, history[0].Actor)
	assert.Equal(t, start, history[0].ChangedAt)

	f.clock.Advance(time.Minute)
	claimed, err := f.engine.Claim(ctx, cook, order.ID)
	require.NoError(t, err)
	_, history, err = f.engine.Lookup(ctx, boss, order.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, claimed.ClaimedAt, history[1].ChangedAt)
	assert.Equal(t, start.Add(time.Minute), history[1].ChangedAt)
}

func TestEstimate(t *testing.T) {
	tests := []struct {
		queue, staff int
		minutes      int
		eta          string
	}{
		{queue: 0, staff: 0, minutes: 40, eta: "40 Minutes"},
		{queue: 0, staff: 4, minutes: 10, eta: "15 - 30 Minutes"},
		{queue: 5, staff: 3, minutes: 80, eta: "80 Minutes"},
		{queue: 1, staff: 7, minutes: 12, eta: "15 - 30 Minutes"},
	}
	for _, tc := range tests {
		minutes, eta := estimate(tc.queue, tc.staff, 40)
		assert.Equal(t, tc.minutes, minutes)
		assert.Equal(t, tc.eta, eta)
	}
}

func TestRecover(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.store.OrderCreate(ctx, model.Order{
		ID:          "prep01",
		RequesterID: "u7",
		Status:      model.OrderStatusPreparing,
		PreparerID:  cook.ID,
		PreparingAt: start.Add(-time.Minute),
	}))
	require.NoError(t, f.store.OrderCreate(ctx, model.Order{
		ID:          "late01",
		RequesterID: "u8",
		Status:      model.OrderStatusReady,
		ReadyAt:     start.Add(-time.Hour),
	}))
	require.NoError(t, f.store.OrderCreate(ctx, model.Order{
		ID:          "clm001",
		RequesterID: "u9",
		Status:      model.OrderStatusClaimed,
		PreparerID:  cook.ID,
		ClaimedAt:   start.Add(-time.Minute),
	}))

	n, err := f.engine.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	f.clock.Advance(0)
	assert.Equal(t, model.OrderStatusDelivered, f.status(t, "late01"))
	assert.Equal(t, model.OrderStatusPreparing, f.status(t, "prep01"))

	f.clock.Advance(2 * time.Minute)
	assert.Equal(t, model.OrderStatusReady, f.status(t, "prep01"))
	assert.Equal(t, 20, f.account(t, cook.ID).Balance)

	f.clock.Advance(time.Minute)
	assert.Equal(t, model.OrderStatusPending, f.status(t, "clm001"))
}

func TestSingleActiveOrderProperty(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))
	requesters := []model.Actor{{ID: "r1"}, {ID: "r2"}, {ID: "r3"}}

	for round := 0; round < 20; round++ {
		f := newFixture(t)
		for _, r := range requesters {
			f.fund(t, r.ID, 100000)
		}

		for step := 0; step < 60; step++ {
			orders, err := f.store.OrderFindByStatus(ctx, model.ActiveOrderStatuses...)
			require.NoError(t, err)
			var target string
			if len(orders) > 0 {
				target = orders[rng.Intn(len(orders))].ID
			}

			switch rng.Intn(7) {
			case 0, 1:
				r := requesters[rng.Intn(len(requesters))]
				_, _ = f.engine.Submit(ctx, r, origin, "item", rng.Intn(2) == 0)
			case 2:
				_, _ = f.engine.Claim(ctx, []model.Actor{cook, cook2}[rng.Intn(2)], target)
			case 3:
				_, _ = f.engine.BeginPreparation(ctx, []model.Actor{cook, cook2}[rng.Intn(2)], target, []string{"p"})
			case 4:
				_, _ = f.engine.Deliver(ctx, courier, target)
			case 5:
				_, _, _ = f.engine.Discipline(ctx, boss, target, PrePreparationWarn, "")
			case 6:
				f.clock.Advance(time.Duration(rng.Intn(6)) * time.Minute)
			}

			active, err := f.store.OrderFindByStatus(ctx, model.ActiveOrderStatuses...)
			require.NoError(t, err)
			seen := map[string]bool{}
			for _, o := range active {
				require.False(t, seen[o.RequesterID], "requester %s holds two active orders", o.RequesterID)
				seen[o.RequesterID] = true
			}
		}
	}
}
