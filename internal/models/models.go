package models

import (
	"time"

	"gorm.io/gorm"
)

type User struct {
	gorm.Model
	Name         string   `gorm:"not null"`
	Surname      string   `gorm:"not null"`
	Email        string   `gorm:"uniqueIndex;not null"`
	PasswordHash string   `gorm:"not null"`
	Role         Priority `gorm:"not null;default:2"` // Уровень приоритета пользователя при вступлении в лист ожидания
}

// WaitingList: лист ожидания на один ресурс (аудитория, оборудование, временной слот).
type WaitingList struct {
	gorm.Model
	ResourceID            uint      `gorm:"index;not null"` // Ресурс, за который идёт очередь
	Name                  string    `gorm:"not null"`
	OpensAt               time.Time `gorm:"index"`         // Время открытия листа ожидания
	ClosesAt              time.Time `gorm:"index"`         // Время закрытия; после него ожидающие записи отменяются
	IsActive              bool      `gorm:"default:false"` // Флаг активности листа ожидания
	MaxParticipants       int       // Опциональный лимит ожидающих участников (0 без лимита)
	ConfirmationTimeLimit int       `gorm:"not null;default:10"` // Время на подтверждение по умолчанию, в минутах
}

// AcceptsAt сообщает, можно ли вступить в лист ожидания в момент now.
func (l *WaitingList) AcceptsAt(now time.Time) bool {
	if !l.IsActive {
		return false
	}
	if !l.OpensAt.IsZero() && now.Before(l.OpensAt) {
		return false
	}
	if !l.ClosesAt.IsZero() && now.After(l.ClosesAt) {
		return false
	}
	return true
}

// Slot: освободившийся слот ресурса. Сопоставление с записями идёт по количеству слотов.
type Slot struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	WaitingListID uint      `gorm:"index;not null" json:"waiting_list_id"`
	ResourceID    uint      `gorm:"index;not null" json:"resource_id"`
	StartsAt      time.Time `json:"starts_at"`
	EndsAt        time.Time `json:"ends_at"`
	ReleasedAt    time.Time `gorm:"index" json:"released_at"`
}
