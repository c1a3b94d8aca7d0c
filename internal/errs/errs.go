package errs

import (
	"errors"
	"fmt"
)

// Виды ошибок. Каждая *Error разворачивается в один из них.
var (
	NotFound            = errors.New("not found")
	InvalidTransition   = errors.New("invalid transition")
	AlreadyExpired      = errors.New("already expired")
	Conflict            = errors.New("conflict")
	Forbidden           = errors.New("forbidden")
	UpstreamUnavailable = errors.New("upstream unavailable")
	InvalidArgument     = errors.New("invalid argument")
)

// Error описывает доменную ошибку с кодом для программной обработки.
type Error struct {
	Kind    error
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Cause}
}

// Is сравнивает ошибки по коду, чтобы копии с другой причиной совпадали с исходной.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// WithCause возвращает копию ошибки с указанной причиной.
func (e *Error) WithCause(cause error) *Error {
	cp := *e
	cp.Cause = cause
	return &cp
}

func New(kind error, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

var (
	ErrEntryNotFound       = New(NotFound, "ENTRY_NOT_FOUND", "Запись в листе ожидания не найдена")
	ErrWaitingListNotFound = New(NotFound, "WAITING_LIST_NOT_FOUND", "Лист ожидания не найден")
	ErrNotInQueue          = New(NotFound, "NOT_IN_QUEUE", "Активная запись в очереди не найдена")

	ErrInvalidTransition = New(InvalidTransition, "INVALID_TRANSITION", "Недопустимый переход состояния записи")
	ErrAlreadyConfirmed  = New(InvalidTransition, "ALREADY_CONFIRMED", "Запись уже подтверждена")
	ErrAlreadyCancelled  = New(InvalidTransition, "ALREADY_CANCELLED", "Запись уже отменена")

	ErrConfirmationElapsed = New(AlreadyExpired, "CONFIRMATION_WINDOW_ELAPSED", "Время на подтверждение истекло")

	ErrAlreadyInQueue    = New(Conflict, "ALREADY_IN_QUEUE", "Пользователь уже состоит в этом листе ожидания")
	ErrAlreadyNotified   = New(Conflict, "ALREADY_NOTIFIED", "Пользователю уже предложен слот в этом листе ожидания")
	ErrMustEscalate      = New(Conflict, "MUST_ESCALATE_TO_HIGHER_PRIORITY", "Приоритет можно только повысить")
	ErrWaitingListClosed = New(Conflict, "WAITING_LIST_INACTIVE", "Лист ожидания не активен")
	ErrWaitingListFull   = New(Conflict, "WAITING_LIST_FULL", "Достигнут лимит участников листа ожидания")

	ErrNotOwner = New(Forbidden, "NOT_ENTRY_OWNER", "Запись принадлежит другому пользователю")

	ErrInvalidPriority          = New(InvalidArgument, "INVALID_PRIORITY", "Неизвестный уровень приоритета")
	ErrInvalidConfirmationLimit = New(InvalidArgument, "INVALID_CONFIRMATION_LIMIT", "Время на подтверждение должно быть не меньше минуты")
	ErrInvalidExpirationReason  = New(InvalidArgument, "INVALID_EXPIRATION_REASON", "Неизвестная причина истечения")

	errUpstream = New(UpstreamUnavailable, "UPSTREAM_UNAVAILABLE", "Внешний сервис недоступен")
)

// Upstream оборачивает сбой хранилища или внешнего сервиса.
func Upstream(cause error) error {
	var e *Error
	if errors.As(cause, &e) {
		return cause
	}
	return errUpstream.WithCause(cause)
}

// CodeOf возвращает код ошибки или пустую строку для посторонних ошибок.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
