package waitlist

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"waitlist_backend/internal/config"
	"waitlist_backend/internal/errs"
	"waitlist_backend/internal/lock"
	"waitlist_backend/internal/models"
)

// Manager объединяет операции листа ожидания, доступные слою команд и запросов.
type Manager interface {
	Join(ctx context.Context, req JoinRequest) (*JoinResult, error)
	Leave(ctx context.Context, entryID uint, actor Actor, reason string) (*LeaveResult, error)
	ProcessAvailableSlots(ctx context.Context, waitingListID uint, slots []models.Slot) (*SlotResult, error)
	Confirm(ctx context.Context, entryID, userID uint) (*ConfirmResult, error)
	HandleExpiration(ctx context.Context, entryID uint, reason ExpirationReason) (*ExpirationResult, error)
	Reorder(ctx context.Context, waitingListID uint) (*ReorderResult, error)
	EscalatePriority(ctx context.Context, entryID uint, newPriority models.Priority) (*EscalationResult, error)
	ExpirationSweep(ctx context.Context) (*SweepResult, error)

	SendReminders(ctx context.Context) (int, error)
	CloseWaitingList(ctx context.Context, waitingListID uint) (*CloseResult, error)
	CloseExpiredWaitingLists(ctx context.Context) (int, error)

	GetEntry(ctx context.Context, entryID uint) (*models.Entry, error)
	GetPosition(ctx context.Context, waitingListID, userID uint) (*PositionInfo, error)
	GetEstimatedWaitTime(ctx context.Context, waitingListID uint, priority models.Priority) (*Prediction, error)
	PredictWaitingTime(ctx context.Context, entryID uint) (*Prediction, error)
	GetStats(ctx context.Context, waitingListID uint) (*Stats, error)
	FairnessScore(ctx context.Context, waitingListID uint) (*FairnessReport, error)
	CorrectFairness(ctx context.Context, waitingListID uint) (*FairnessCorrection, error)
}

// Engine единственный пишет состояние записей. Все изменения одного листа
// ожидания выполняются под его блокировкой; разные листы обрабатываются параллельно.
type Engine struct {
	store       Store
	eligibility EligibilityChecker
	notifier    Notifier
	events      EventSink
	locker      Locker
	clock       Clock
	logger      *log.Logger

	policy atomic.Pointer[config.Policy]
	stats  singleflight.Group
}

var _ Manager = (*Engine)(nil)

type Option func(*Engine)

func WithEligibility(c EligibilityChecker) Option { return func(e *Engine) { e.eligibility = c } }
func WithNotifier(n Notifier) Option             { return func(e *Engine) { e.notifier = n } }
func WithEventSink(s EventSink) Option           { return func(e *Engine) { e.events = s } }
func WithLocker(l Locker) Option                 { return func(e *Engine) { e.locker = l } }
func WithClock(c Clock) Option                   { return func(e *Engine) { e.clock = c } }
func WithLogger(l *log.Logger) Option            { return func(e *Engine) { e.logger = l } }

func WithPolicy(p config.Policy) Option {
	return func(e *Engine) { e.policy.Store(&p) }
}

func New(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		eligibility: AllowAll{},
		notifier:    noopNotifier{},
		events:      nopSink{},
		locker:      lock.NewMutexMap(),
		clock:       systemClock{},
		logger:      log.Default(),
	}
	def := config.DefaultPolicy()
	e.policy.Store(&def)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetPolicy подменяет политику; уже идущие операции дорабатывают со старой.
func (e *Engine) SetPolicy(p config.Policy) {
	e.policy.Store(&p)
}

func (e *Engine) Policy() config.Policy {
	return *e.policy.Load()
}

func listKey(waitingListID uint) string {
	return fmt.Sprintf("waitlist:%d", waitingListID)
}

func (e *Engine) withList(ctx context.Context, waitingListID uint, fn func() error) error {
	unlock, err := e.locker.Acquire(ctx, listKey(waitingListID))
	if err != nil {
		return errs.Upstream(fmt.Errorf("lock waiting list %d: %w", waitingListID, err))
	}
	defer unlock()
	return fn()
}

// withEntry блокирует лист ожидания записи и перечитывает её под блокировкой.
func (e *Engine) withEntry(ctx context.Context, entryID uint, fn func(entry *models.Entry) error) error {
	unlocked, err := e.store.FindByID(ctx, entryID)
	if err != nil {
		return err
	}
	return e.withList(ctx, unlocked.WaitingListID, func() error {
		entry, err := e.store.FindByID(ctx, entryID)
		if err != nil {
			return err
		}
		return fn(entry)
	})
}

func (e *Engine) emit(ctx context.Context, typ EventType, entry *models.Entry, reason string) {
	e.events.Emit(ctx, newEvent(typ, entry, reason, e.clock.Now()))
}

type JoinRequest struct {
	WaitingListID uint
	UserID        uint
	ResourceID    uint
	Priority      models.Priority
	// ConfirmationTimeLimit в минутах; 0 означает значение листа ожидания или политики.
	ConfirmationTimeLimit int
}

type JoinResult struct {
	Entry         models.Entry
	Position      int
	EstimatedWait Prediction
	Warnings      []string
}

const (
	WarningLongQueue = "long queue"
	WarningLongWait  = "long wait"
)

// Join добавляет пользователя в лист ожидания. Проверки допуска к бронированию
// (лимиты и т.п.) выполняет вызывающий код до вызова.
func (e *Engine) Join(ctx context.Context, req JoinRequest) (*JoinResult, error) {
	if !req.Priority.Valid() {
		return nil, errs.ErrInvalidPriority
	}
	if req.ConfirmationTimeLimit < 0 {
		return nil, errs.ErrInvalidConfirmationLimit
	}

	var result *JoinResult
	err := e.withList(ctx, req.WaitingListID, func() error {
		list, err := e.store.FindWaitingList(ctx, req.WaitingListID)
		if err != nil {
			return err
		}
		now := e.clock.Now()
		if !list.AcceptsAt(now) {
			return errs.ErrWaitingListClosed
		}

		existing, err := e.store.FindActiveByUser(ctx, req.WaitingListID, req.UserID)
		switch {
		case err == nil && existing.Status == models.StatusNotified:
			return errs.ErrAlreadyNotified
		case err == nil:
			return errs.ErrAlreadyInQueue
		case !errors.Is(err, errs.NotFound):
			return err
		}

		waiting, err := e.store.FindWaitingOrdered(ctx, req.WaitingListID)
		if err != nil {
			return err
		}
		if list.MaxParticipants > 0 && len(waiting) >= list.MaxParticipants {
			return errs.ErrWaitingListFull
		}

		policy := e.Policy()
		limit := req.ConfirmationTimeLimit
		if limit == 0 {
			limit = list.ConfirmationTimeLimit
		}
		if limit < 1 {
			limit = policy.DefaultConfirmationMinutes
		}

		resourceID := req.ResourceID
		if resourceID == 0 {
			resourceID = list.ResourceID
		}

		entry := &models.Entry{
			WaitingListID:         req.WaitingListID,
			UserID:                req.UserID,
			ResourceID:            resourceID,
			Position:              InsertionPosition(waiting, req.Priority),
			Priority:              req.Priority,
			RequestedAt:           now,
			ConfirmationTimeLimit: limit,
			Status:                models.StatusWaiting,
		}
		// Вставка и сдвиг соседей сохраняются одним вызовом хранилища.
		if _, _, err := e.commit(ctx, req.WaitingListID, waiting, entry); err != nil {
			return err
		}

		avg, samples, err := e.processingHistory(ctx, req.WaitingListID)
		if err != nil {
			return err
		}
		prediction := predict(entry.Position, entry.Priority, avg, samples, policy)

		var warnings []string
		if entry.Position > policy.LongQueuePosition {
			warnings = append(warnings, WarningLongQueue)
		}
		if prediction.EstimatedWait > policy.LongWait {
			warnings = append(warnings, WarningLongWait)
		}

		e.emit(ctx, EventJoined, entry, "")
		result = &JoinResult{
			Entry:         *entry,
			Position:      entry.Position,
			EstimatedWait: prediction,
			Warnings:      warnings,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Actor указывает, кто выполняет действие. Override разрешает действовать с чужой записью.
type Actor struct {
	UserID   uint
	Override bool
}

type LeaveResult struct {
	Removed    models.Entry
	NextInLine *models.Entry
}

// Leave отменяет запись. Освободившийся слот уведомлённой записи не перераспределяется
// автоматически: это делает вызывающий код через ProcessAvailableSlots.
func (e *Engine) Leave(ctx context.Context, entryID uint, actor Actor, reason string) (*LeaveResult, error) {
	var result *LeaveResult
	err := e.withEntry(ctx, entryID, func(entry *models.Entry) error {
		if !actor.Override && entry.UserID != actor.UserID {
			return errs.ErrNotOwner
		}
		if err := entry.Cancel(e.clock.Now(), reason); err != nil {
			return err
		}
		waiting, err := e.store.FindWaitingOrdered(ctx, entry.WaitingListID)
		if err != nil {
			return err
		}
		queue, _, err := e.commit(ctx, entry.WaitingListID, waiting, entry)
		if err != nil {
			return err
		}
		e.emit(ctx, EventLeft, entry, reason)
		result = &LeaveResult{Removed: *entry, NextInLine: first(queue)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

type SkippedEntry struct {
	Entry  models.Entry
	Reason string
}

type SlotResult struct {
	Notified  []models.Entry
	Remaining []models.Entry
	Skipped   []SkippedEntry
}

// ProcessAvailableSlots предлагает освободившиеся слоты ожидающим в порядке очереди.
// Слоты сопоставляются с записями только по количеству. Сам ресурс не бронируется.
func (e *Engine) ProcessAvailableSlots(ctx context.Context, waitingListID uint, slots []models.Slot) (*SlotResult, error) {
	var result *SlotResult
	err := e.withList(ctx, waitingListID, func() error {
		if _, err := e.store.FindWaitingList(ctx, waitingListID); err != nil {
			return err
		}
		offer, err := e.offerSlots(ctx, waitingListID, len(slots), nil)
		if err != nil {
			return err
		}
		e.emitNotified(ctx, offer.notified)
		result = &SlotResult{
			Notified:  offer.notified,
			Remaining: offer.queue,
			Skipped:   offer.skipped,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

type offerResult struct {
	notified []models.Entry
	skipped  []SkippedEntry
	queue    []models.Entry
}

// offerSlots предлагает до n слотов ожидающим по порядку очереди. Предложение сначала
// сохраняется вместе с новыми позициями и только потом отправляется. Если доставить его
// не удалось, запись возвращается в очередь и пропускается без расхода слота.
// pending (подтверждённая или истёкшая запись) сохраняется в одном вызове с первым
// предложением, а если предложений нет, отдельно. Вызывается под блокировкой листа.
func (e *Engine) offerSlots(ctx context.Context, waitingListID uint, n int, pending *models.Entry) (*offerResult, error) {
	queue, err := e.waitingSorted(ctx, waitingListID)
	if err != nil {
		return nil, err
	}
	res := &offerResult{}
	passed := make(map[uint]bool)
	for len(res.notified) < n {
		candidate, ok := nextCandidate(queue, passed)
		if !ok {
			break
		}
		passed[candidate.ID] = true
		if reason := e.checkEligibility(ctx, &candidate); reason != "" {
			res.skipped = append(res.skipped, SkippedEntry{Entry: candidate, Reason: reason})
			continue
		}
		if err := candidate.Notify(e.clock.Now()); err != nil {
			res.skipped = append(res.skipped, SkippedEntry{Entry: candidate, Reason: err.Error()})
			continue
		}

		changed := []*models.Entry{&candidate}
		if pending != nil {
			changed = append(changed, pending)
		}
		if queue, _, err = e.commit(ctx, waitingListID, queue, changed...); err != nil {
			return nil, err
		}
		pending = nil

		if err := e.dispatch(ctx, &candidate); err != nil {
			e.logger.Printf("Не удалось уведомить пользователя %d о слоте (запись %d): %v", candidate.UserID, candidate.ID, err)
			if err := candidate.Withdraw(); err != nil {
				return nil, err
			}
			if queue, _, err = e.commit(ctx, waitingListID, queue, &candidate); err != nil {
				return nil, err
			}
			res.skipped = append(res.skipped, SkippedEntry{Entry: candidate, Reason: "notification gateway unavailable"})
			continue
		}
		res.notified = append(res.notified, candidate)
	}
	if pending != nil {
		if queue, _, err = e.commit(ctx, waitingListID, queue, pending); err != nil {
			return nil, err
		}
	}
	res.queue = queue
	return res, nil
}

func nextCandidate(queue []models.Entry, passed map[uint]bool) (models.Entry, bool) {
	for _, entry := range queue {
		if !passed[entry.ID] {
			return entry, true
		}
	}
	return models.Entry{}, false
}

// checkEligibility возвращает причину пропуска; пустая строка означает допуск.
func (e *Engine) checkEligibility(ctx context.Context, entry *models.Entry) string {
	verdict, err := e.eligibility.CanReserve(ctx, entry.UserID)
	if err != nil {
		e.logger.Printf("Проверка допуска пользователя %d недоступна: %v", entry.UserID, err)
		return "eligibility check unavailable"
	}
	if !verdict.Allowed {
		if verdict.Reason == "" {
			return "not eligible"
		}
		return verdict.Reason
	}
	return ""
}

func (e *Engine) dispatch(ctx context.Context, entry *models.Entry) error {
	deadline, _ := entry.Deadline()
	return e.notifier.NotifyUser(ctx, Notification{
		UserID:        entry.UserID,
		WaitingListID: entry.WaitingListID,
		EntryID:       entry.ID,
		Kind:          NotificationSlotOffered,
		Deadline:      deadline,
	})
}

func (e *Engine) emitNotified(ctx context.Context, notified []models.Entry) {
	for i := range notified {
		e.emit(ctx, EventNotified, &notified[i], "")
	}
}

type ConfirmResult struct {
	Confirmed  models.Entry
	NextInLine *models.Entry
}

// Confirm подтверждает предложенный слот. Просроченное окно отклоняется сразу,
// не дожидаясь фоновой проверки.
func (e *Engine) Confirm(ctx context.Context, entryID, userID uint) (*ConfirmResult, error) {
	var result *ConfirmResult
	err := e.withEntry(ctx, entryID, func(entry *models.Entry) error {
		if entry.UserID != userID {
			return errs.ErrNotOwner
		}
		if err := entry.Confirm(e.clock.Now()); err != nil {
			return err
		}
		chain := e.Policy().ChainOnConfirm
		n := 0
		if chain {
			n = 1
		}
		offer, err := e.offerSlots(ctx, entry.WaitingListID, n, entry)
		if err != nil {
			return err
		}
		e.emit(ctx, EventConfirmed, entry, "")
		e.emitNotified(ctx, offer.notified)

		result = &ConfirmResult{Confirmed: *entry}
		if chain {
			result.NextInLine = first(offer.notified)
		} else {
			result.NextInLine = first(offer.queue)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

type ExpirationReason string

const (
	ExpirationTimeout      ExpirationReason = "TIMEOUT"
	ExpirationUserRejected ExpirationReason = "USER_REJECTED"
)

func (r ExpirationReason) Valid() bool {
	return r == ExpirationTimeout || r == ExpirationUserRejected
}

type ExpirationResult struct {
	Expired      models.Entry
	NextNotified *models.Entry
	Reordered    []models.Entry
}

// HandleExpiration закрывает уведомлённую запись и сразу предлагает слот следующему.
func (e *Engine) HandleExpiration(ctx context.Context, entryID uint, reason ExpirationReason) (*ExpirationResult, error) {
	if !reason.Valid() {
		return nil, errs.ErrInvalidExpirationReason
	}
	return e.expire(ctx, entryID, reason, false)
}

// expire при onlyElapsed пропускает запись, окно которой ещё не истекло (возвращает nil, nil).
func (e *Engine) expire(ctx context.Context, entryID uint, reason ExpirationReason, onlyElapsed bool) (*ExpirationResult, error) {
	var result *ExpirationResult
	err := e.withEntry(ctx, entryID, func(entry *models.Entry) error {
		now := e.clock.Now()
		if onlyElapsed && !entry.IsExpired(now) {
			return nil
		}
		if err := entry.Expire(now, string(reason)); err != nil {
			return err
		}
		// Истечение и предложение следующему сохраняются вместе.
		offer, err := e.offerSlots(ctx, entry.WaitingListID, 1, entry)
		if err != nil {
			return err
		}
		e.emit(ctx, EventExpired, entry, string(reason))
		e.emitNotified(ctx, offer.notified)
		for _, s := range offer.skipped {
			e.logger.Printf("Запись %d пропущена при замене истёкшей %d: %s", s.Entry.ID, entry.ID, s.Reason)
		}
		result = &ExpirationResult{
			Expired:      *entry,
			NextNotified: first(offer.notified),
			Reordered:    offer.queue,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

type PositionChange struct {
	EntryID     uint `json:"entry_id"`
	OldPosition int  `json:"old_position"`
	NewPosition int  `json:"new_position"`
}

type ReorderResult struct {
	Entries []models.Entry
	Changes []PositionChange
}

// Reorder пересчитывает плотные позиции 1..N ожидающих записей.
func (e *Engine) Reorder(ctx context.Context, waitingListID uint) (*ReorderResult, error) {
	var result *ReorderResult
	err := e.withList(ctx, waitingListID, func() error {
		var err error
		result, err = e.reorderLocked(ctx, waitingListID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// reorderLocked пишет только изменившиеся позиции. Вызывается под блокировкой листа.
func (e *Engine) reorderLocked(ctx context.Context, waitingListID uint) (*ReorderResult, error) {
	waiting, err := e.store.FindWaitingOrdered(ctx, waitingListID)
	if err != nil {
		return nil, err
	}
	queue, changes, err := e.commit(ctx, waitingListID, waiting)
	if err != nil {
		return nil, err
	}
	return &ReorderResult{Entries: queue, Changes: changes}, nil
}

// commit сохраняет изменённые записи вместе с плотными позициями ожидающих одним
// вызовом Store.Apply и возвращает новую очередь. При ошибке хранилища не меняется ничего.
func (e *Engine) commit(ctx context.Context, waitingListID uint, waiting []models.Entry, changed ...*models.Entry) ([]models.Entry, []PositionChange, error) {
	queue, changes, positions := plan(waiting, changed)
	if len(changed) > 0 || len(positions) > 0 {
		if err := e.store.Apply(ctx, waitingListID, changed, positions); err != nil {
			return nil, nil, err
		}
	}
	next := make([]models.Entry, len(queue))
	for i, entry := range queue {
		next[i] = *entry
	}
	for _, c := range changes {
		if entry, ok := findEntry(next, c.EntryID); ok {
			e.emit(ctx, EventReordered, entry, "")
		}
	}
	return next, changes, nil
}

type EscalationResult struct {
	Escalated   models.Entry
	NewPosition int
	Affected    []models.Entry
}

// EscalatePriority повышает приоритет ожидающей записи и перестраивает очередь.
func (e *Engine) EscalatePriority(ctx context.Context, entryID uint, newPriority models.Priority) (*EscalationResult, error) {
	if !newPriority.Valid() {
		return nil, errs.ErrInvalidPriority
	}
	var result *EscalationResult
	err := e.withEntry(ctx, entryID, func(entry *models.Entry) error {
		if entry.Status != models.StatusWaiting {
			return errs.ErrInvalidTransition
		}
		if !newPriority.Outranks(entry.Priority) {
			return errs.ErrMustEscalate
		}
		entry.Priority = newPriority
		waiting, err := e.store.FindWaitingOrdered(ctx, entry.WaitingListID)
		if err != nil {
			return err
		}
		queue, _, err := e.commit(ctx, entry.WaitingListID, waiting, entry)
		if err != nil {
			return err
		}
		e.emit(ctx, EventEscalated, entry, "")
		result = &EscalationResult{
			Escalated:   *entry,
			NewPosition: entry.Position,
			Affected:    queue,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// waitingSorted читает ожидающих и упорядочивает их заново: порядок хранилища не считается авторитетным.
func (e *Engine) waitingSorted(ctx context.Context, waitingListID uint) ([]models.Entry, error) {
	waiting, err := e.store.FindWaitingOrdered(ctx, waitingListID)
	if err != nil {
		return nil, err
	}
	SortEntries(waiting)
	return waiting, nil
}

func findEntry(entries []models.Entry, id uint) (*models.Entry, bool) {
	for i := range entries {
		if entries[i].ID == id {
			return &entries[i], true
		}
	}
	return nil, false
}

func first(entries []models.Entry) *models.Entry {
	if len(entries) == 0 {
		return nil
	}
	e := entries[0]
	return &e
}
