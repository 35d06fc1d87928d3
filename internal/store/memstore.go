package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iurnickita/sugarrush/internal/model"
)

// MemStore keeps every record in process memory behind one mutex, so each
// call is a serializable transaction.
type MemStore struct {
	mu        sync.Mutex
	orders    map[string]model.Order
	history   map[string][]model.HistoryEntry
	accounts  map[string]model.Account
	markers   map[string]time.Time
	blacklist map[string]string
	now       func() time.Time
}

func NewMemStore() *MemStore {
	return &MemStore{
		orders:    make(map[string]model.Order),
		history:   make(map[string][]model.HistoryEntry),
		accounts:  make(map[string]model.Account),
		markers:   make(map[string]time.Time),
		blacklist: make(map[string]string),
		now:       time.Now,
	}
}

func (s *MemStore) OrderCreate(_ context.Context, order model.Order, changes ...AccountChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[order.ID]; ok {
		return ErrAlreadyExists
	}
	if order.Status.Active() && s.hasActive(order.RequesterID, "") {
		return ErrDuplicateActive
	}
	staged, err := s.stage(changes)
	if err != nil {
		return err
	}

	s.commit(staged)
	s.orders[order.ID] = order.Clone()
	s.appendHistory(order, order.RequesterID, "", order.CreatedAt)
	return nil
}

func (s *MemStore) OrderTransition(_ context.Context, t Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.orders[t.Order.ID]
	if !ok {
		return ErrNoRows
	}
	if current.Status != t.From {
		return ErrStatusChanged
	}
	if t.Order.Status.Active() && s.hasActive(t.Order.RequesterID, t.Order.ID) {
		return ErrDuplicateActive
	}
	staged, err := s.stage(t.Changes)
	if err != nil {
		return err
	}

	s.commit(staged)
	// архивная ссылка принадлежит синхронизации, не переходу
	next := t.Order.Clone()
	next.ArchiveHandle = current.ArchiveHandle
	s.orders[next.ID] = next
	if t.From != next.Status || t.Note != "" {
		s.appendHistory(next, t.Actor, t.Note, t.At)
	}
	return nil
}

func (s *MemStore) OrderGet(_ context.Context, id string) (model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]
	if !ok {
		return model.Order{}, ErrNoRows
	}
	return order.Clone(), nil
}

func (s *MemStore) OrderExists(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.orders[id]
	return ok, nil
}

func (s *MemStore) OrderSetArchiveHandle(_ context.Context, id string, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]
	if !ok {
		return ErrNoRows
	}
	order.ArchiveHandle = handle
	s.orders[id] = order
	return nil
}

func (s *MemStore) OrderFindActive(_ context.Context, requester string) (model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, order := range s.orders {
		if order.RequesterID == requester && order.Status.Active() {
			return order.Clone(), nil
		}
	}
	return model.Order{}, ErrNoRows
}

func (s *MemStore) OrderFindByStatus(_ context.Context, statuses ...model.OrderStatus) ([]model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[model.OrderStatus]struct{}, len(statuses))
	for _, status := range statuses {
		want[status] = struct{}{}
	}
	var orders []model.Order
	for _, order := range s.orders {
		if _, ok := want[order.Status]; ok {
			orders = append(orders, order.Clone())
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
	return orders, nil
}

func (s *MemStore) OrderCountActive(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, order := range s.orders {
		if order.Status.Active() {
			count++
		}
	}
	return count, nil
}

func (s *MemStore) OrderHistory(_ context.Context, id string) ([]model.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[id]; !ok {
		return nil, ErrNoRows
	}
	return append([]model.HistoryEntry(nil), s.history[id]...), nil
}

func (s *MemStore) AccountGet(_ context.Context, id string) (model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[id]
	if !ok {
		return model.Account{}, ErrNoRows
	}
	return acct, nil
}

func (s *MemStore) AccountUpdate(_ context.Context, id string, fn func(acct *model.Account) error) (model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged, err := s.stage([]AccountChange{{AccountID: id, Apply: fn}})
	if err != nil {
		return model.Account{}, err
	}
	s.commit(staged)
	return s.accounts[id], nil
}

func (s *MemStore) MarkerGet(_ context.Context, key string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.markers[key]
	if !ok {
		return time.Time{}, ErrNoRows
	}
	return value, nil
}

func (s *MemStore) MarkerSet(_ context.Context, key string, value time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.markers[key] = value
	return nil
}

func (s *MemStore) BlacklistAdd(_ context.Context, guildID string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blacklist[guildID] = reason
	return nil
}

func (s *MemStore) BlacklistRemove(_ context.Context, guildID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.blacklist, guildID)
	return nil
}

func (s *MemStore) BlacklistHas(_ context.Context, guildID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.blacklist[guildID]
	return ok, nil
}

func (s *MemStore) Close() error {
	return nil
}

func (s *MemStore) hasActive(requester string, exceptID string) bool {
	for id, order := range s.orders {
		if id != exceptID && order.RequesterID == requester && order.Status.Active() {
			return true
		}
	}
	return false
}

// stage applies changes to copies so a failing change leaves nothing behind.
func (s *MemStore) stage(changes []AccountChange) (map[string]model.Account, error) {
	staged := make(map[string]model.Account, len(changes))
	for _, change := range changes {
		acct, ok := staged[change.AccountID]
		if !ok {
			acct, ok = s.accounts[change.AccountID]
			if !ok {
				acct = model.NewAccount(change.AccountID)
			}
		}
		if err := change.Apply(&acct); err != nil {
			return nil, err
		}
		acct.ID = change.AccountID
		staged[change.AccountID] = acct
	}
	return staged, nil
}

func (s *MemStore) commit(staged map[string]model.Account) {
	for id, acct := range staged {
		s.accounts[id] = acct
	}
}

func (s *MemStore) appendHistory(order model.Order, actor string, note string, at time.Time) {
	if at.IsZero() {
		at = s.now()
	}
	s.history[order.ID] = append(s.history[order.ID], model.HistoryEntry{
		OrderID:   order.ID,
		Status:    order.Status,
		Actor:     actor,
		Note:      note,
		ChangedAt: at,
	})
}
