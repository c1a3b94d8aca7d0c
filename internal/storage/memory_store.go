package storage

import (
	"context"
	"sync"
	"time"

	"waitlist_backend/internal/errs"
	"waitlist_backend/internal/models"
	"waitlist_backend/internal/waitlist"
)

// MemoryStore хранит записи в памяти: записи адресуются по ID, отдаются копиями.
type MemoryStore struct {
	mu      sync.RWMutex
	lists   map[uint]models.WaitingList
	entries map[uint]models.Entry
	slots   []models.Slot
	nextID  uint
	nextLID uint
}

var _ waitlist.Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lists:   make(map[uint]models.WaitingList),
		entries: make(map[uint]models.Entry),
	}
}

func (s *MemoryStore) CreateWaitingList(_ context.Context, list *models.WaitingList) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextLID++
	list.ID = s.nextLID
	now := time.Now()
	list.CreatedAt, list.UpdatedAt = now, now
	s.lists[list.ID] = *list
	return nil
}

func (s *MemoryStore) FindWaitingList(_ context.Context, id uint) (*models.WaitingList, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list, ok := s.lists[id]
	if !ok {
		return nil, errs.ErrWaitingListNotFound
	}
	return &list, nil
}

func (s *MemoryStore) FindWaitingListsToClose(_ context.Context, now time.Time) ([]models.WaitingList, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.WaitingList
	for _, list := range s.lists {
		if list.IsActive && !list.ClosesAt.IsZero() && list.ClosesAt.Before(now) {
			out = append(out, list)
		}
	}
	return out, nil
}

func (s *MemoryStore) SaveWaitingList(_ context.Context, list *models.WaitingList) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lists[list.ID]; !ok {
		return errs.ErrWaitingListNotFound
	}
	list.UpdatedAt = time.Now()
	s.lists[list.ID] = *list
	return nil
}

func (s *MemoryStore) RecordSlots(_ context.Context, slots []models.Slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range slots {
		slots[i].ID = uint(len(s.slots) + 1)
		s.slots = append(s.slots, slots[i])
	}
	return nil
}

// Create добавляет запись в обход очереди.
func (s *MemoryStore) Create(_ context.Context, entry *models.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	entry.ID = s.nextID
	now := time.Now()
	entry.CreatedAt, entry.UpdatedAt = now, now
	s.entries[entry.ID] = *entry
	return nil
}

func (s *MemoryStore) FindByID(_ context.Context, id uint) (*models.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[id]
	if !ok {
		return nil, errs.ErrEntryNotFound
	}
	return &entry, nil
}

func (s *MemoryStore) FindActiveByUser(_ context.Context, waitingListID, userID uint) (*models.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, entry := range s.entries {
		if entry.WaitingListID == waitingListID && entry.UserID == userID && entry.Status.Active() {
			return &entry, nil
		}
	}
	return nil, errs.ErrNotInQueue
}

func (s *MemoryStore) FindWaitingOrdered(_ context.Context, waitingListID uint) ([]models.Entry, error) {
	out := s.filter(func(e *models.Entry) bool {
		return e.WaitingListID == waitingListID && e.Status == models.StatusWaiting
	})
	waitlist.SortEntries(out)
	return out, nil
}

func (s *MemoryStore) FindByStatus(_ context.Context, status models.Status) ([]models.Entry, error) {
	return s.filter(func(e *models.Entry) bool { return e.Status == status }), nil
}

func (s *MemoryStore) FindByList(_ context.Context, waitingListID uint) ([]models.Entry, error) {
	return s.filter(func(e *models.Entry) bool { return e.WaitingListID == waitingListID }), nil
}

// filter возвращает копии подходящих записей в порядке ID.
func (s *MemoryStore) filter(keep func(*models.Entry) bool) []models.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Entry{}
	for id := uint(1); id <= s.nextID; id++ {
		entry, ok := s.entries[id]
		if ok && keep(&entry) {
			out = append(out, entry)
		}
	}
	return out
}

func (s *MemoryStore) Update(_ context.Context, entry *models.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[entry.ID]; !ok {
		return errs.ErrEntryNotFound
	}
	entry.UpdatedAt = time.Now()
	s.entries[entry.ID] = *entry
	return nil
}

// Apply проверяет всё до первой записи, поэтому при ошибке хранилище не меняется.
func (s *MemoryStore) Apply(_ context.Context, waitingListID uint, changed []*models.Entry, positions map[uint]int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range changed {
		if entry.WaitingListID != waitingListID {
			return errs.ErrEntryNotFound
		}
		if entry.ID == 0 {
			continue
		}
		if cur, ok := s.entries[entry.ID]; !ok || cur.WaitingListID != waitingListID {
			return errs.ErrEntryNotFound
		}
	}
	for id := range positions {
		entry, ok := s.entries[id]
		if !ok || entry.WaitingListID != waitingListID {
			return errs.ErrEntryNotFound
		}
	}

	now := time.Now()
	for _, entry := range changed {
		if entry.ID == 0 {
			s.nextID++
			entry.ID = s.nextID
			entry.CreatedAt = now
		}
		entry.UpdatedAt = now
		s.entries[entry.ID] = *entry
	}
	for id, pos := range positions {
		entry := s.entries[id]
		entry.Position = pos
		s.entries[id] = entry
	}
	return nil
}
