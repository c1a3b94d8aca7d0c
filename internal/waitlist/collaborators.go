package waitlist

import (
	"context"
	"time"

	"waitlist_backend/internal/models"
)

// Store: хранилище записей листов ожидания.
// Ошибки: errs.NotFound для отсутствующих объектов, errs.UpstreamUnavailable для сбоев.
// Хранилище сохраняет ровно то, что ему передали, и не меняет поля ранжирования само.
type Store interface {
	FindWaitingList(ctx context.Context, id uint) (*models.WaitingList, error)
	// FindWaitingListsToClose возвращает активные листы, чьё время закрытия прошло.
	FindWaitingListsToClose(ctx context.Context, now time.Time) ([]models.WaitingList, error)
	SaveWaitingList(ctx context.Context, list *models.WaitingList) error

	FindByID(ctx context.Context, id uint) (*models.Entry, error)
	// FindActiveByUser ищет запись в статусе WAITING или NOTIFIED.
	FindActiveByUser(ctx context.Context, waitingListID, userID uint) (*models.Entry, error)
	// FindWaitingOrdered возвращает записи WAITING, отсортированные по правилу очерёдности.
	FindWaitingOrdered(ctx context.Context, waitingListID uint) ([]models.Entry, error)
	// FindByStatus ищет записи во всех листах ожидания.
	FindByStatus(ctx context.Context, status models.Status) ([]models.Entry, error)
	FindByList(ctx context.Context, waitingListID uint) ([]models.Entry, error)
	Update(ctx context.Context, entry *models.Entry) error
	// Apply атомарно сохраняет изменённые записи (запись с ID == 0 создаётся и получает ID)
	// и новые позиции остальных ожидающих (id записи -> позиция). При ошибке не меняется ничего.
	Apply(ctx context.Context, waitingListID uint, changed []*models.Entry, positions map[uint]int) error
}

// Eligibility: ответ о допуске пользователя к бронированию.
type Eligibility struct {
	Allowed bool
	Reason  string
}

type EligibilityChecker interface {
	CanReserve(ctx context.Context, userID uint) (Eligibility, error)
}

// AllowAll допускает всех пользователей.
type AllowAll struct{}

func (AllowAll) CanReserve(context.Context, uint) (Eligibility, error) {
	return Eligibility{Allowed: true}, nil
}

type NotificationKind string

const (
	NotificationSlotOffered NotificationKind = "slot_offered"
	NotificationReminder    NotificationKind = "reminder"
)

type Notification struct {
	UserID        uint             `json:"user_id"`
	WaitingListID uint             `json:"waiting_list_id"`
	EntryID       uint             `json:"entry_id"`
	Kind          NotificationKind `json:"kind"`
	Deadline      time.Time        `json:"deadline"`
}

// Notifier доставляет уведомления пользователю. Ошибка доставки логируется движком и не повторяется.
type Notifier interface {
	NotifyUser(ctx context.Context, n Notification) error
}

type noopNotifier struct{}

func (noopNotifier) NotifyUser(context.Context, Notification) error { return nil }

// Locker даёт эксклюзивную секцию по ключу. Возвращённую функцию нужно вызвать для освобождения.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
