package models

import (
	"time"

	"waitlist_backend/internal/errs"
)

type Status string

const (
	StatusWaiting   Status = "WAITING"
	StatusNotified  Status = "NOTIFIED"
	StatusConfirmed Status = "CONFIRMED"
	StatusExpired   Status = "EXPIRED"
	StatusCancelled Status = "CANCELLED"
)

// Active сообщает, что запись участвует в очереди (ожидает или ждёт подтверждения).
func (s Status) Active() bool {
	return s == StatusWaiting || s == StatusNotified
}

func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusExpired || s == StatusCancelled
}

// DefaultConfirmationTimeLimit задаёт время на подтверждение в минутах, если не задано иное.
const DefaultConfirmationTimeLimit = 10

// Entry: заявка одного пользователя в листе ожидания.
type Entry struct {
	ID                    uint       `gorm:"primaryKey" json:"id"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
	WaitingListID         uint       `gorm:"index:idx_entry_list_status;index:idx_entry_list_user;not null" json:"waiting_list_id"`
	UserID                uint       `gorm:"index:idx_entry_list_user;not null" json:"user_id"`
	ResourceID            uint       `gorm:"index;not null" json:"resource_id"`
	Position              int        `gorm:"not null" json:"position"` // Текущая позиция среди ожидающих (1..N)
	Priority              Priority   `gorm:"not null" json:"priority"`
	RequestedAt           time.Time  `gorm:"not null" json:"requested_at"`                       // Время вступления, не меняется
	ConfirmationTimeLimit int        `gorm:"not null;default:10" json:"confirmation_time_limit"` // В минутах
	Status                Status     `gorm:"type:varchar(16);index:idx_entry_list_status;not null" json:"status"`
	NotifiedAt            *time.Time `json:"notified_at,omitempty"`
	ConfirmedAt           *time.Time `json:"confirmed_at,omitempty"`
	ExpiredAt             *time.Time `json:"expired_at,omitempty"`
	CancelledAt           *time.Time `json:"cancelled_at,omitempty"`
	RemindedAt            *time.Time `json:"reminded_at,omitempty"`
	CancelReason          string     `json:"cancel_reason,omitempty"`
	ExpireReason          string     `json:"expire_reason,omitempty"`
}

func (e *Entry) confirmationWindow() time.Duration {
	return time.Duration(e.ConfirmationTimeLimit) * time.Minute
}

// Deadline возвращает момент окончания окна подтверждения, если запись уведомлена.
func (e *Entry) Deadline() (time.Time, bool) {
	if e.NotifiedAt == nil {
		return time.Time{}, false
	}
	return e.NotifiedAt.Add(e.confirmationWindow()), true
}

// IsExpired сообщает, что окно подтверждения уведомлённой записи прошло,
// даже если переход в EXPIRED ещё не применён.
func (e *Entry) IsExpired(now time.Time) bool {
	if e.Status != StatusNotified {
		return false
	}
	deadline, ok := e.Deadline()
	return ok && now.After(deadline)
}

// Notify переводит запись WAITING -> NOTIFIED и открывает окно подтверждения.
func (e *Entry) Notify(now time.Time) error {
	if e.Status != StatusWaiting {
		return e.transitionError()
	}
	e.Status = StatusNotified
	e.NotifiedAt = stamp(now)
	return nil
}

// Withdraw отзывает предложение, которое не удалось доставить: NOTIFIED -> WAITING.
// Место в очереди сохраняется, так как время вступления не меняется.
func (e *Entry) Withdraw() error {
	if e.Status != StatusNotified {
		return e.transitionError()
	}
	e.Status = StatusWaiting
	e.NotifiedAt = nil
	return nil
}

// Confirm переводит запись NOTIFIED -> CONFIRMED, пока окно подтверждения не истекло.
func (e *Entry) Confirm(now time.Time) error {
	if e.Status != StatusNotified {
		return e.transitionError()
	}
	if e.IsExpired(now) {
		return errs.ErrConfirmationElapsed
	}
	e.Status = StatusConfirmed
	e.ConfirmedAt = stamp(now)
	return nil
}

// Expire переводит запись NOTIFIED -> EXPIRED.
func (e *Entry) Expire(now time.Time, reason string) error {
	if e.Status != StatusNotified {
		return e.transitionError()
	}
	e.Status = StatusExpired
	e.ExpiredAt = stamp(now)
	e.ExpireReason = reason
	return nil
}

// Cancel отзывает активную запись.
func (e *Entry) Cancel(now time.Time, reason string) error {
	if !e.Status.Active() {
		return e.transitionError()
	}
	e.Status = StatusCancelled
	e.CancelledAt = stamp(now)
	e.CancelReason = reason
	return nil
}

// MarkReminded фиксирует отправку напоминания; повторно не выставляется.
func (e *Entry) MarkReminded(now time.Time) bool {
	if e.RemindedAt != nil {
		return false
	}
	e.RemindedAt = stamp(now)
	return true
}

func (e *Entry) transitionError() error {
	switch e.Status {
	case StatusConfirmed:
		return errs.ErrAlreadyConfirmed
	case StatusCancelled:
		return errs.ErrAlreadyCancelled
	}
	return errs.ErrInvalidTransition
}

func stamp(now time.Time) *time.Time {
	t := now
	return &t
}
