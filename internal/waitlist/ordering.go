package waitlist

import (
	"sort"

	"waitlist_backend/internal/models"
)

// Less задаёт порядок ожидающих записей: выше приоритет, затем раньше вступление.
// ID разрешает совпадение времени вступления; ещё не сохранённая запись (ID == 0) идёт последней.
func Less(a, b *models.Entry) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.RequestedAt.Equal(b.RequestedAt) {
		return a.RequestedAt.Before(b.RequestedAt)
	}
	if a.ID == 0 || b.ID == 0 {
		return b.ID == 0 && a.ID != 0
	}
	return a.ID < b.ID
}

// SortEntries упорядочивает записи по Less.
func SortEntries(entries []models.Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return Less(&entries[i], &entries[j])
	})
}

// InsertionPosition возвращает позицию нового участника с приоритетом p: он встаёт
// после всех ожидающих с не меньшим приоритетом.
func InsertionPosition(waiting []models.Entry, p models.Priority) int {
	pos := 1
	for i := range waiting {
		if waiting[i].Status == models.StatusWaiting && waiting[i].Priority >= p {
			pos++
		}
	}
	return pos
}

// plan раскладывает ожидающих с учётом изменённых записей и назначает плотные позиции 1..N.
// Изменённые записи получают позицию в самом объекте, сдвиги остальных возвращаются
// в positions. Записи, вышедшие из WAITING, в очередь не попадают. waiting не меняется.
func plan(waiting []models.Entry, changed []*models.Entry) ([]*models.Entry, []PositionChange, map[uint]int) {
	touched := make(map[*models.Entry]bool, len(changed))
	replaced := make(map[uint]bool, len(changed))
	for _, c := range changed {
		touched[c] = true
		if c.ID != 0 {
			replaced[c.ID] = true
		}
	}

	queue := make([]*models.Entry, 0, len(waiting)+len(changed))
	for i := range waiting {
		if replaced[waiting[i].ID] {
			continue
		}
		w := waiting[i]
		queue = append(queue, &w)
	}
	for _, c := range changed {
		if c.Status == models.StatusWaiting {
			queue = append(queue, c)
		}
	}
	sort.SliceStable(queue, func(i, j int) bool { return Less(queue[i], queue[j]) })

	changes := []PositionChange{}
	positions := make(map[uint]int)
	for i, entry := range queue {
		pos := i + 1
		if entry.Position == pos {
			continue
		}
		if entry.ID != 0 {
			changes = append(changes, PositionChange{EntryID: entry.ID, OldPosition: entry.Position, NewPosition: pos})
		}
		if !touched[entry] {
			positions[entry.ID] = pos
		}
		entry.Position = pos
	}
	return queue, changes, positions
}

func sortByPosition(entries []models.Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Position < entries[j].Position
	})
}
