package models

import (
	"fmt"
	"strings"
)

// Priority: уровень приоритета заявителя. Больший вес стоит в очереди выше.
type Priority int

const (
	PriorityExternal        Priority = 1
	PriorityStudent         Priority = 2
	PriorityTeacher         Priority = 3
	PriorityProgramDirector Priority = 4
	PriorityAdmin           Priority = 5
)

var priorityNames = map[Priority]string{
	PriorityExternal:        "EXTERNAL",
	PriorityStudent:         "STUDENT",
	PriorityTeacher:         "TEACHER",
	PriorityProgramDirector: "PROGRAM_DIRECTOR",
	PriorityAdmin:           "ADMIN",
}

// Priorities перечисляет уровни по возрастанию.
var Priorities = []Priority{
	PriorityExternal,
	PriorityStudent,
	PriorityTeacher,
	PriorityProgramDirector,
	PriorityAdmin,
}

func (p Priority) Valid() bool {
	_, ok := priorityNames[p]
	return ok
}

func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Priority(%d)", int(p))
}

// Outranks сообщает, что p строго выше other.
func (p Priority) Outranks(other Priority) bool {
	return p > other
}

// ParsePriority принимает имя уровня без учёта регистра.
func ParsePriority(s string) (Priority, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for p, n := range priorityNames {
		if n == name {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown priority %q", s)
}

func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Priority) UnmarshalText(text []byte) error {
	parsed, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
