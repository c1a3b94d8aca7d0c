package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"waitlist_backend/internal/errs"
	"waitlist_backend/internal/models"
	"waitlist_backend/internal/waitlist"
)

// GormStore хранит листы ожидания и записи в реляционной БД.
type GormStore struct {
	db *gorm.DB
}

var _ waitlist.Store = (*GormStore)(nil)

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) DB() *gorm.DB {
	return s.db
}

func wrap(err error, notFound *errs.Error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound
	}
	return errs.Upstream(err)
}

func (s *GormStore) CreateWaitingList(ctx context.Context, list *models.WaitingList) error {
	if err := s.db.WithContext(ctx).Create(list).Error; err != nil {
		return errs.Upstream(err)
	}
	return nil
}

func (s *GormStore) FindWaitingList(ctx context.Context, id uint) (*models.WaitingList, error) {
	var list models.WaitingList
	if err := s.db.WithContext(ctx).First(&list, id).Error; err != nil {
		return nil, wrap(err, errs.ErrWaitingListNotFound)
	}
	return &list, nil
}

func (s *GormStore) FindWaitingListsToClose(ctx context.Context, now time.Time) ([]models.WaitingList, error) {
	var lists []models.WaitingList
	err := s.db.WithContext(ctx).
		Where("is_active = ? AND closes_at > ? AND closes_at < ?", true, time.Time{}, now).
		Find(&lists).Error
	if err != nil {
		return nil, errs.Upstream(err)
	}
	return lists, nil
}

func (s *GormStore) SaveWaitingList(ctx context.Context, list *models.WaitingList) error {
	if err := s.db.WithContext(ctx).Save(list).Error; err != nil {
		return errs.Upstream(err)
	}
	return nil
}

// RecordSlots сохраняет освободившиеся слоты.
func (s *GormStore) RecordSlots(ctx context.Context, slots []models.Slot) error {
	if len(slots) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(&slots).Error; err != nil {
		return errs.Upstream(err)
	}
	return nil
}

// Create добавляет запись в обход очереди (начальная загрузка и тесты).
func (s *GormStore) Create(ctx context.Context, entry *models.Entry) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return errs.Upstream(err)
	}
	return nil
}

func (s *GormStore) FindByID(ctx context.Context, id uint) (*models.Entry, error) {
	var entry models.Entry
	if err := s.db.WithContext(ctx).First(&entry, id).Error; err != nil {
		return nil, wrap(err, errs.ErrEntryNotFound)
	}
	return &entry, nil
}

func (s *GormStore) FindActiveByUser(ctx context.Context, waitingListID, userID uint) (*models.Entry, error) {
	var entry models.Entry
	err := s.db.WithContext(ctx).
		Where("waiting_list_id = ? AND user_id = ? AND status IN ?", waitingListID, userID,
			[]models.Status{models.StatusWaiting, models.StatusNotified}).
		First(&entry).Error
	if err != nil {
		return nil, wrap(err, errs.ErrNotInQueue)
	}
	return &entry, nil
}

func (s *GormStore) FindWaitingOrdered(ctx context.Context, waitingListID uint) ([]models.Entry, error) {
	var entries []models.Entry
	err := s.db.WithContext(ctx).
		Where("waiting_list_id = ? AND status = ?", waitingListID, models.StatusWaiting).
		Order("priority DESC, requested_at ASC, id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, errs.Upstream(err)
	}
	return entries, nil
}

func (s *GormStore) FindByStatus(ctx context.Context, status models.Status) ([]models.Entry, error) {
	var entries []models.Entry
	if err := s.db.WithContext(ctx).Where("status = ?", status).Order("id ASC").Find(&entries).Error; err != nil {
		return nil, errs.Upstream(err)
	}
	return entries, nil
}

func (s *GormStore) FindByList(ctx context.Context, waitingListID uint) ([]models.Entry, error) {
	var entries []models.Entry
	if err := s.db.WithContext(ctx).Where("waiting_list_id = ?", waitingListID).Order("id ASC").Find(&entries).Error; err != nil {
		return nil, errs.Upstream(err)
	}
	return entries, nil
}

func (s *GormStore) Update(ctx context.Context, entry *models.Entry) error {
	if err := updateEntry(s.db.WithContext(ctx), entry); err != nil {
		return errs.Upstream(err)
	}
	return nil
}

func updateEntry(db *gorm.DB, entry *models.Entry) error {
	if entry.ID == 0 {
		return errs.ErrEntryNotFound
	}
	// Save на отсутствующей строке сделал бы вставку.
	res := db.Model(entry).Select("*").Omit("id", "created_at").Updates(entry)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errs.ErrEntryNotFound
	}
	return nil
}

// Apply пишет записи и позиции в одной транзакции: либо всё, либо ничего.
func (s *GormStore) Apply(ctx context.Context, waitingListID uint, changed []*models.Entry, positions map[uint]int) error {
	var created []*models.Entry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, entry := range changed {
			if entry.WaitingListID != waitingListID {
				return errs.ErrEntryNotFound
			}
			if entry.ID == 0 {
				if err := tx.Create(entry).Error; err != nil {
					return err
				}
				created = append(created, entry)
				continue
			}
			if err := updateEntry(tx, entry); err != nil {
				return err
			}
		}
		for id, pos := range positions {
			res := tx.Model(&models.Entry{}).
				Where("id = ? AND waiting_list_id = ?", id, waitingListID).
				Update("position", pos)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return errs.ErrEntryNotFound
			}
		}
		return nil
	})
	if err != nil {
		// Транзакция откатилась: выданные ей ID недействительны.
		for _, entry := range created {
			entry.ID = 0
		}
		return errs.Upstream(err)
	}
	return nil
}
