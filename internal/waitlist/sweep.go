package waitlist

import (
	"context"
	"errors"

	"waitlist_backend/internal/errs"
	"waitlist_backend/internal/models"
)

type SweepResult struct {
	Scanned  int
	Expired  []ExpirationResult
	Failures int
}

// ExpirationSweep закрывает уведомлённые записи с истёкшим окном подтверждения.
// Ошибка по одной записи логируется и не прерывает проход.
func (e *Engine) ExpirationSweep(ctx context.Context) (*SweepResult, error) {
	notified, err := e.store.FindByStatus(ctx, models.StatusNotified)
	if err != nil {
		return nil, err
	}
	result := &SweepResult{Scanned: len(notified)}
	now := e.clock.Now()
	for i := range notified {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if !notified[i].IsExpired(now) {
			continue
		}
		res, err := e.expire(ctx, notified[i].ID, ExpirationTimeout, true)
		switch {
		case err == nil && res != nil:
			result.Expired = append(result.Expired, *res)
		case err == nil:
			// окно продлилось или запись уже обработана
		case errors.Is(err, errs.InvalidTransition):
			// запись уже подтверждена, отменена или закрыта параллельно
		default:
			result.Failures++
			e.logger.Printf("Ошибка при закрытии истёкшей записи %d: %v", notified[i].ID, err)
		}
	}
	if len(result.Expired) > 0 {
		e.logger.Printf("Закрыто истёкших записей: %d", len(result.Expired))
	}
	return result, nil
}

// SendReminders напоминает о скором окончании окна подтверждения. Каждой записи не больше одного раза.
func (e *Engine) SendReminders(ctx context.Context) (int, error) {
	notified, err := e.store.FindByStatus(ctx, models.StatusNotified)
	if err != nil {
		return 0, err
	}
	sent := 0
	for i := range notified {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		if !e.dueForReminder(&notified[i]) {
			continue
		}
		err := e.withEntry(ctx, notified[i].ID, func(entry *models.Entry) error {
			if !e.dueForReminder(entry) {
				return nil
			}
			deadline, _ := entry.Deadline()
			err := e.notifier.NotifyUser(ctx, Notification{
				UserID:        entry.UserID,
				WaitingListID: entry.WaitingListID,
				EntryID:       entry.ID,
				Kind:          NotificationReminder,
				Deadline:      deadline,
			})
			if err != nil {
				e.logger.Printf("Не удалось отправить напоминание по записи %d: %v", entry.ID, err)
				return nil
			}
			entry.MarkReminded(e.clock.Now())
			if err := e.store.Update(ctx, entry); err != nil {
				return err
			}
			sent++
			return nil
		})
		if err != nil {
			e.logger.Printf("Ошибка напоминания по записи %d: %v", notified[i].ID, err)
		}
	}
	return sent, nil
}

func (e *Engine) dueForReminder(entry *models.Entry) bool {
	if entry.Status != models.StatusNotified || entry.RemindedAt != nil {
		return false
	}
	now := e.clock.Now()
	if entry.IsExpired(now) {
		return false
	}
	deadline, ok := entry.Deadline()
	return ok && deadline.Sub(now) <= e.Policy().ReminderBefore
}

type CloseResult struct {
	WaitingList models.WaitingList
	Cancelled   []models.Entry
}

const closedReason = "waiting list closed"

// CloseWaitingList деактивирует лист и отменяет ожидающие записи.
// Уже уведомлённые записи могут подтвердить слот до конца своего окна.
func (e *Engine) CloseWaitingList(ctx context.Context, waitingListID uint) (*CloseResult, error) {
	var result *CloseResult
	err := e.withList(ctx, waitingListID, func() error {
		list, err := e.store.FindWaitingList(ctx, waitingListID)
		if err != nil {
			return err
		}
		waiting, err := e.waitingSorted(ctx, waitingListID)
		if err != nil {
			return err
		}
		now := e.clock.Now()
		changed := make([]*models.Entry, len(waiting))
		for i := range waiting {
			if err := waiting[i].Cancel(now, closedReason); err != nil {
				return err
			}
			changed[i] = &waiting[i]
		}
		// Сначала отменяются все записи разом, затем выключается лист:
		// если второй шаг не удался, повторное закрытие доведёт дело до конца.
		if _, _, err := e.commit(ctx, waitingListID, nil, changed...); err != nil {
			return err
		}
		list.IsActive = false
		if err := e.store.SaveWaitingList(ctx, list); err != nil {
			return err
		}
		cancelled := make([]models.Entry, 0, len(waiting))
		for i := range waiting {
			e.emit(ctx, EventLeft, &waiting[i], closedReason)
			cancelled = append(cancelled, waiting[i])
		}
		result = &CloseResult{WaitingList: *list, Cancelled: cancelled}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CloseExpiredWaitingLists закрывает активные листы, время закрытия которых прошло.
func (e *Engine) CloseExpiredWaitingLists(ctx context.Context) (int, error) {
	lists, err := e.store.FindWaitingListsToClose(ctx, e.clock.Now())
	if err != nil {
		return 0, err
	}
	closed := 0
	for _, list := range lists {
		res, err := e.CloseWaitingList(ctx, list.ID)
		if err != nil {
			e.logger.Printf("Ошибка закрытия листа ожидания %d: %v", list.ID, err)
			continue
		}
		closed++
		e.logger.Printf("Лист ожидания '%s' закрыт, отменено записей: %d", list.Name, len(res.Cancelled))
	}
	return closed, nil
}
