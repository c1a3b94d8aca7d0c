package waitlist

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"waitlist_backend/internal/models"
)

type EventType string

const (
	EventJoined    EventType = "joined"
	EventLeft      EventType = "left"
	EventNotified  EventType = "notified"
	EventConfirmed EventType = "confirmed"
	EventExpired   EventType = "expired"
	EventEscalated EventType = "escalated"
	EventReordered EventType = "reordered"
)

// Event описывает видимый снаружи переход записи.
type Event struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"event_type"`
	EntryID       uint            `json:"entry_id"`
	UserID        uint            `json:"user_id"`
	WaitingListID uint            `json:"waiting_list_id"`
	Position      int             `json:"position"`
	Priority      models.Priority `json:"priority"`
	Status        models.Status   `json:"status"`
	Reason        string          `json:"reason,omitempty"`
	At            time.Time       `json:"at"`
}

type EventSink interface {
	Emit(ctx context.Context, ev Event)
}

// MultiSink рассылает событие всем получателям по очереди.
type MultiSink []EventSink

func (m MultiSink) Emit(ctx context.Context, ev Event) {
	for _, s := range m {
		s.Emit(ctx, ev)
	}
}

// LogSink пишет события в лог.
type LogSink struct {
	Logger *log.Logger
}

func (s LogSink) Emit(_ context.Context, ev Event) {
	logger := s.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf("event=%s list=%d entry=%d user=%d position=%d priority=%s",
		ev.Type, ev.WaitingListID, ev.EntryID, ev.UserID, ev.Position, ev.Priority)
}

type nopSink struct{}

func (nopSink) Emit(context.Context, Event) {}

func newEvent(typ EventType, entry *models.Entry, reason string, at time.Time) Event {
	return Event{
		ID:            uuid.NewString(),
		Type:          typ,
		EntryID:       entry.ID,
		UserID:        entry.UserID,
		WaitingListID: entry.WaitingListID,
		Position:      entry.Position,
		Priority:      entry.Priority,
		Status:        entry.Status,
		Reason:        reason,
		At:            at,
	}
}
