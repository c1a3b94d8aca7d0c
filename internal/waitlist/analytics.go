package waitlist

import (
	"context"
	"strconv"
	"time"

	"waitlist_backend/internal/config"
	"waitlist_backend/internal/errs"
	"waitlist_backend/internal/models"
)

type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Prediction содержит оценку времени ожидания.
type Prediction struct {
	Position      int           `json:"position"`
	EstimatedWait time.Duration `json:"estimated_wait"`
	Confidence    Confidence    `json:"confidence"`
	SampleSize    int           `json:"sample_size"`
}

// averageProcessingTime считает среднее время от уведомления до подтверждения по
// подтверждённым записям; без истории возвращает def.
func averageProcessingTime(entries []models.Entry, def time.Duration) (time.Duration, int) {
	var (
		total time.Duration
		n     int
	)
	for i := range entries {
		e := &entries[i]
		if e.Status != models.StatusConfirmed || e.NotifiedAt == nil || e.ConfirmedAt == nil {
			continue
		}
		total += e.ConfirmedAt.Sub(*e.NotifiedAt)
		n++
	}
	if n == 0 {
		return def, 0
	}
	return total / time.Duration(n), n
}

func confidenceFor(samples int, policy config.Policy) Confidence {
	switch {
	case samples < policy.LowConfidenceSamples:
		return ConfidenceLow
	case samples > policy.HighConfidenceSamples:
		return ConfidenceHigh
	default:
		return ConfidenceMedium
	}
}

func predict(position int, priority models.Priority, avg time.Duration, samples int, policy config.Policy) Prediction {
	wait := time.Duration(float64(position) * float64(avg) * policy.Multiplier(priority))
	return Prediction{
		Position:      position,
		EstimatedWait: wait,
		Confidence:    confidenceFor(samples, policy),
		SampleSize:    samples,
	}
}

func (e *Engine) processingHistory(ctx context.Context, waitingListID uint) (time.Duration, int, error) {
	entries, err := e.store.FindByList(ctx, waitingListID)
	if err != nil {
		return 0, 0, err
	}
	avg, n := averageProcessingTime(entries, e.Policy().DefaultProcessingTime)
	return avg, n, nil
}

func (e *Engine) GetEntry(ctx context.Context, entryID uint) (*models.Entry, error) {
	return e.store.FindByID(ctx, entryID)
}

// PredictWaitingTime оценивает ожидание для существующей записи в статусе WAITING.
func (e *Engine) PredictWaitingTime(ctx context.Context, entryID uint) (*Prediction, error) {
	entry, err := e.store.FindByID(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.Status != models.StatusWaiting {
		return nil, errs.ErrNotInQueue
	}
	avg, n, err := e.processingHistory(ctx, entry.WaitingListID)
	if err != nil {
		return nil, err
	}
	p := predict(entry.Position, entry.Priority, avg, n, e.Policy())
	return &p, nil
}

// GetEstimatedWaitTime оценивает ожидание для нового участника с указанным приоритетом.
func (e *Engine) GetEstimatedWaitTime(ctx context.Context, waitingListID uint, priority models.Priority) (*Prediction, error) {
	if !priority.Valid() {
		return nil, errs.ErrInvalidPriority
	}
	if _, err := e.store.FindWaitingList(ctx, waitingListID); err != nil {
		return nil, err
	}
	waiting, err := e.store.FindWaitingOrdered(ctx, waitingListID)
	if err != nil {
		return nil, err
	}
	avg, n, err := e.processingHistory(ctx, waitingListID)
	if err != nil {
		return nil, err
	}
	p := predict(InsertionPosition(waiting, priority), priority, avg, n, e.Policy())
	return &p, nil
}

type PositionInfo struct {
	Entry      models.Entry `json:"entry"`
	Position   int          `json:"position"`
	Ahead      int          `json:"ahead"`
	Prediction *Prediction  `json:"prediction,omitempty"`
	Deadline   *time.Time   `json:"deadline,omitempty"`
}

// GetPosition возвращает текущее место пользователя. Для уведомлённой записи
// позиции нет, вместо неё возвращается срок подтверждения.
func (e *Engine) GetPosition(ctx context.Context, waitingListID, userID uint) (*PositionInfo, error) {
	entry, err := e.store.FindActiveByUser(ctx, waitingListID, userID)
	if err != nil {
		return nil, err
	}
	info := &PositionInfo{Entry: *entry}
	if entry.Status == models.StatusNotified {
		if deadline, ok := entry.Deadline(); ok {
			info.Deadline = &deadline
		}
		return info, nil
	}
	avg, n, err := e.processingHistory(ctx, waitingListID)
	if err != nil {
		return nil, err
	}
	p := predict(entry.Position, entry.Priority, avg, n, e.Policy())
	info.Position = entry.Position
	info.Ahead = entry.Position - 1
	info.Prediction = &p
	return info, nil
}

// FairnessReport показывает долю пар ожидающих без инверсий больше чем на один уровень.
type FairnessReport struct {
	Score      float64 `json:"score"`
	Inversions int     `json:"inversions"`
	TotalPairs int     `json:"total_pairs"`
}

// largeInversion: менее приоритетная запись стоит раньше более приоритетной
// с разницей больше одного уровня.
func largeInversion(ahead, behind *models.Entry) bool {
	return behind.Priority-ahead.Priority > 1
}

// Fairness считает справедливость по записям, упорядоченным по позиции.
func Fairness(byPosition []models.Entry) FairnessReport {
	n := len(byPosition)
	report := FairnessReport{Score: 1, TotalPairs: n * (n - 1) / 2}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if largeInversion(&byPosition[i], &byPosition[j]) {
				report.Inversions++
			}
		}
	}
	if report.TotalPairs > 0 {
		report.Score = 1 - float64(report.Inversions)/float64(report.TotalPairs)
	}
	return report
}

func (e *Engine) waitingByPosition(ctx context.Context, waitingListID uint) ([]models.Entry, error) {
	waiting, err := e.store.FindWaitingOrdered(ctx, waitingListID)
	if err != nil {
		return nil, err
	}
	sortByPosition(waiting)
	return waiting, nil
}

func (e *Engine) FairnessScore(ctx context.Context, waitingListID uint) (*FairnessReport, error) {
	waiting, err := e.waitingByPosition(ctx, waitingListID)
	if err != nil {
		return nil, err
	}
	report := Fairness(waiting)
	return &report, nil
}

type FairnessCorrection struct {
	Before FairnessReport   `json:"before"`
	After  FairnessReport   `json:"after"`
	Swaps  []PositionChange `json:"swaps"`
}

// CorrectFairness меняет местами пары с крупной инверсией, пока такие есть.
// Каждая перестановка строго уменьшает число инверсий, поэтому проход конечен.
func (e *Engine) CorrectFairness(ctx context.Context, waitingListID uint) (*FairnessCorrection, error) {
	var result *FairnessCorrection
	err := e.withList(ctx, waitingListID, func() error {
		waiting, err := e.waitingByPosition(ctx, waitingListID)
		if err != nil {
			return err
		}
		result = &FairnessCorrection{Before: Fairness(waiting), Swaps: []PositionChange{}}
		original := make(map[uint]int, len(waiting))
		for i := range waiting {
			original[waiting[i].ID] = waiting[i].Position
		}

		for swapped := true; swapped; {
			swapped = false
			for i := 0; i < len(waiting) && !swapped; i++ {
				for j := i + 1; j < len(waiting); j++ {
					if !largeInversion(&waiting[i], &waiting[j]) {
						continue
					}
					waiting[i].Position, waiting[j].Position = waiting[j].Position, waiting[i].Position
					waiting[i], waiting[j] = waiting[j], waiting[i]
					swapped = true
					break
				}
			}
		}

		positions := make(map[uint]int)
		for i := range waiting {
			if old := original[waiting[i].ID]; old != waiting[i].Position {
				positions[waiting[i].ID] = waiting[i].Position
				result.Swaps = append(result.Swaps, PositionChange{
					EntryID:     waiting[i].ID,
					OldPosition: old,
					NewPosition: waiting[i].Position,
				})
			}
		}
		if len(positions) > 0 {
			if err := e.store.Apply(ctx, waitingListID, nil, positions); err != nil {
				return err
			}
			for i := range waiting {
				if _, ok := positions[waiting[i].ID]; ok {
					e.emit(ctx, EventReordered, &waiting[i], "fairness")
				}
			}
		}
		result.After = Fairness(waiting)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Stats: сводка по листу ожидания.
type Stats struct {
	WaitingListID         uint                  `json:"waiting_list_id"`
	Total                 int                   `json:"total"`
	ByStatus              map[models.Status]int `json:"by_status"`
	AverageProcessingTime time.Duration         `json:"average_processing_time"`
	ProcessingSamples     int                   `json:"processing_samples"`
	AverageWaitToNotify   time.Duration         `json:"average_wait_to_notify"`
	ConfirmationRate      float64               `json:"confirmation_rate"`
	Fairness              FairnessReport        `json:"fairness"`
}

const statsTimeout = 10 * time.Second

// GetStats считает сводку; одновременные запросы по одному листу объединяются.
// Общий расчёт не привязан к контексту запроса, который его начал: отмена одного
// вызывающего не должна ронять остальных.
func (e *Engine) GetStats(ctx context.Context, waitingListID uint) (*Stats, error) {
	ch := e.stats.DoChan(strconv.FormatUint(uint64(waitingListID), 10), func() (interface{}, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statsTimeout)
		defer cancel()
		return e.computeStats(sctx, waitingListID)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		stats := *res.Val.(*Stats)
		return &stats, nil
	}
}

func (e *Engine) computeStats(ctx context.Context, waitingListID uint) (*Stats, error) {
	if _, err := e.store.FindWaitingList(ctx, waitingListID); err != nil {
		return nil, err
	}
	entries, err := e.store.FindByList(ctx, waitingListID)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		WaitingListID: waitingListID,
		Total:         len(entries),
		ByStatus:      make(map[models.Status]int),
	}
	var (
		waitTotal time.Duration
		notified  int
		waiting   []models.Entry
	)
	for i := range entries {
		entry := &entries[i]
		stats.ByStatus[entry.Status]++
		if entry.Status == models.StatusWaiting {
			waiting = append(waiting, *entry)
		}
		if entry.NotifiedAt != nil {
			waitTotal += entry.NotifiedAt.Sub(entry.RequestedAt)
			notified++
		}
	}
	stats.AverageProcessingTime, stats.ProcessingSamples = averageProcessingTime(entries, e.Policy().DefaultProcessingTime)
	if notified > 0 {
		stats.AverageWaitToNotify = waitTotal / time.Duration(notified)
	}
	if decided := stats.ByStatus[models.StatusConfirmed] + stats.ByStatus[models.StatusExpired]; decided > 0 {
		stats.ConfirmationRate = float64(stats.ByStatus[models.StatusConfirmed]) / float64(decided)
	}
	sortByPosition(waiting)
	stats.Fairness = Fairness(waiting)
	return stats, nil
}
