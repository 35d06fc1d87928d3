// Package archive projects order state onto the external log. Every call
// renders the current state, so redundant or reordered syncs converge.
package archive

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/iurnickita/sugarrush/internal/keylock"
	"github.com/iurnickita/sugarrush/internal/metrics"
	"github.com/iurnickita/sugarrush/internal/model"
	"github.com/iurnickita/sugarrush/internal/notify"
	"github.com/iurnickita/sugarrush/internal/scheduler"
	"github.com/iurnickita/sugarrush/internal/store"
)

type Syncer struct {
	store  store.Store
	sink   notify.Sink
	clock  scheduler.Clock
	locks  *keylock.Locks
	zaplog *zap.Logger
}

func NewSyncer(store store.Store, sink notify.Sink, clock scheduler.Clock, zaplog *zap.Logger) *Syncer {
	return &Syncer{
		store:  store,
		sink:   sink,
		clock:  clock,
		locks:  keylock.New(),
		zaplog: zaplog.Named("archive"),
	}
}

// Sync writes the current snapshot of the order to its log entry, creating a
// new entry when none exists or the recorded one has gone missing.
func (s *Syncer) Sync(ctx context.Context, orderID string) error {
	unlock := s.locks.Lock(orderID)
	defer unlock()

	order, err := s.store.OrderGet(ctx, orderID)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return model.ErrNotFound
		}
		return err
	}

	snap := notify.NewSnapshot(order, s.clock.Now())
	handle, err := s.sink.EditOrCreateLogEntry(ctx, order.ArchiveHandle, snap)
	if errors.Is(err, notify.ErrEntryNotFound) && order.ArchiveHandle != "" {
		s.zaplog.Info("archive entry missing, recreating",
			zap.String("order_id", order.ID),
			zap.String("handle", order.ArchiveHandle))
		handle, err = s.sink.EditOrCreateLogEntry(ctx, "", snap)
	}
	if err != nil {
		metrics.NotifyFailuresTotal.WithLabelValues("archive").Inc()
		return fmt.Errorf("archive order %s: %w", order.ID, err)
	}

	if handle != "" && handle != order.ArchiveHandle {
		if err = s.store.OrderSetArchiveHandle(ctx, order.ID, handle); err != nil {
			return fmt.Errorf("record archive handle of %s: %w", order.ID, err)
		}
	}
	return nil
}
