package handlers

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"waitlist_backend/internal/auth"
	"waitlist_backend/internal/models"
	"waitlist_backend/internal/response"
	"waitlist_backend/internal/waitlist"
	"waitlist_backend/internal/ws"
)

// WaitingLists сохраняет листы ожидания и освободившиеся слоты.
type WaitingLists interface {
	CreateWaitingList(ctx context.Context, list *models.WaitingList) error
	RecordSlots(ctx context.Context, slots []models.Slot) error
}

// Penalties ведёт учёт штрафов, ограничивающих бронирование.
type Penalties interface {
	Penalize(ctx context.Context, userID uint, reason string, duration time.Duration) error
}

// WaitlistHandler обслуживает API листов ожидания.
type WaitlistHandler struct {
	engine    waitlist.Manager
	lists     WaitingLists
	penalties Penalties
	hub       *ws.Hub
}

func NewWaitlistHandler(engine waitlist.Manager, lists WaitingLists, penalties Penalties, hub *ws.Hub) *WaitlistHandler {
	return &WaitlistHandler{engine: engine, lists: lists, penalties: penalties, hub: hub}
}

// RegisterRoutes подключает маршруты к группе, уже защищённой авторизацией.
func (h *WaitlistHandler) RegisterRoutes(api *gin.RouterGroup) {
	admin := auth.RequireAdmin()

	lists := api.Group("/waiting-lists")
	{
		lists.POST("", admin, h.CreateWaitingList)
		lists.POST("/:id/join", h.Join)
		lists.POST("/:id/slots", admin, h.ReleaseSlots)
		lists.POST("/:id/reorder", admin, h.Reorder)
		lists.GET("/:id/position", h.GetPosition)
		lists.GET("/:id/estimate", h.GetEstimate)
		lists.GET("/:id/stats", h.GetStats)
		lists.GET("/:id/fairness", h.GetFairness)
		lists.POST("/:id/fairness", admin, h.CorrectFairness)
		lists.POST("/:id/close", admin, h.Close)
		if h.hub != nil {
			lists.GET("/:id/ws", h.WebSocket)
		}
	}

	entries := api.Group("/entries")
	{
		entries.POST("/:id/leave", h.Leave)
		entries.POST("/:id/confirm", h.Confirm)
		entries.POST("/:id/reject", h.Reject)
		entries.POST("/:id/escalate", admin, h.Escalate)
	}

	if h.penalties != nil {
		api.POST("/admin/penalties", admin, h.Penalize)
	}
}

func listID(c *gin.Context) (uint, bool) {
	return idParam(c, "id", "INVALID_WAITING_LIST_ID", "Неверный идентификатор листа ожидания")
}

func entryID(c *gin.Context) (uint, bool) {
	return idParam(c, "id", "INVALID_ENTRY_ID", "Неверный идентификатор записи")
}

func waitMinutes(d time.Duration) float64 {
	return d.Minutes()
}

type CreateWaitingListRequest struct {
	ResourceID            uint       `json:"resource_id" binding:"required"`
	Name                  string     `json:"name" binding:"required"`
	OpensAt               *time.Time `json:"opens_at"`
	ClosesAt              *time.Time `json:"closes_at"`
	MaxParticipants       int        `json:"max_participants" binding:"min=0"`
	ConfirmationTimeLimit int        `json:"confirmation_time_limit" binding:"omitempty,min=1"`
}

// CreateWaitingList создаёт активный лист ожидания
// @Summary		Создание листа ожидания
// @Tags			waiting-lists
// @Accept			json
// @Produce		json
// @Param			list	body	CreateWaitingListRequest	true	"Параметры листа ожидания"
// @Security		BearerAuth
// @Success		201	{object}	models.WaitingList
// @Failure		400	{object}	response.ErrorResponse	"Ошибка валидации (VALIDATION_ERROR)"
// @Failure		403	{object}	response.ErrorResponse	"Только для администратора (ADMIN_ONLY)"
// @Router			/api/waiting-lists [post]
func (h *WaitlistHandler) CreateWaitingList(c *gin.Context) {
	var req CreateWaitingListRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "VALIDATION_ERROR", "Ошибка валидации данных", err)
		return
	}

	list := models.WaitingList{
		ResourceID:            req.ResourceID,
		Name:                  req.Name,
		IsActive:              true,
		MaxParticipants:       req.MaxParticipants,
		ConfirmationTimeLimit: req.ConfirmationTimeLimit,
	}
	if list.ConfirmationTimeLimit == 0 {
		list.ConfirmationTimeLimit = models.DefaultConfirmationTimeLimit
	}
	if req.OpensAt != nil {
		list.OpensAt = *req.OpensAt
	}
	if req.ClosesAt != nil {
		list.ClosesAt = *req.ClosesAt
	}
	if !list.OpensAt.IsZero() && !list.ClosesAt.IsZero() && !list.ClosesAt.After(list.OpensAt) {
		badRequest(c, "VALIDATION_ERROR", "Время закрытия должно быть позже времени открытия", nil)
		return
	}

	if err := h.lists.CreateWaitingList(c.Request.Context(), &list); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, list)
}

type JoinRequest struct {
	// Только для администратора: записать другого пользователя
	UserID uint `json:"user_id"`
	// Только для администратора: явный уровень приоритета
	Priority              *models.Priority `json:"priority" swaggertype:"string" example:"TEACHER"`
	ResourceID            uint             `json:"resource_id"`
	ConfirmationTimeLimit int              `json:"confirmation_time_limit" binding:"omitempty,min=1"`
}

type JoinResponse struct {
	Message              string       `json:"message"`
	Entry                models.Entry `json:"entry"`
	Position             int          `json:"position"`
	EstimatedWaitMinutes float64      `json:"estimated_wait_minutes"`
	Confidence           string       `json:"confidence"`
	Warnings             []string     `json:"warnings"`
}

// Join обрабатывает запрос на вступление в лист ожидания
// @Summary		Вступление в лист ожидания
// @Description	Добавляет пользователя в лист ожидания с приоритетом его роли и уведомляет других участников
// @Tags			waiting-lists
// @Accept			json
// @Produce		json
// @Param			id		path	int			true	"ID листа ожидания"
// @Param			request	body	JoinRequest	false	"Параметры вступления"
// @Security		BearerAuth
// @Success		200	{object}	JoinResponse
// @Failure		400	{object}	response.ErrorResponse	"Ошибка валидации (INVALID_WAITING_LIST_ID, VALIDATION_ERROR)"
// @Failure		404	{object}	response.ErrorResponse	"Лист ожидания не найден (WAITING_LIST_NOT_FOUND)"
// @Failure		409	{object}	response.ErrorResponse	"ALREADY_IN_QUEUE, ALREADY_NOTIFIED, WAITING_LIST_INACTIVE, WAITING_LIST_FULL"
// @Router			/api/waiting-lists/{id}/join [post]
func (h *WaitlistHandler) Join(c *gin.Context) {
	id, ok := listID(c)
	if !ok {
		return
	}
	var req JoinRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "VALIDATION_ERROR", "Ошибка валидации данных", err)
			return
		}
	}

	userID := auth.UserID(c)
	priority := auth.Role(c)
	if req.UserID != 0 || req.Priority != nil {
		if !auth.IsAdmin(c) {
			c.JSON(http.StatusForbidden, response.ErrorResponse{
				Code:    "ADMIN_ONLY",
				Message: "Указать пользователя или приоритет может только администратор",
			})
			return
		}
		if req.UserID != 0 {
			userID = req.UserID
		}
		if req.Priority != nil {
			priority = *req.Priority
		}
	}

	res, err := h.engine.Join(c.Request.Context(), waitlist.JoinRequest{
		WaitingListID:         id,
		UserID:                userID,
		ResourceID:            req.ResourceID,
		Priority:              priority,
		ConfirmationTimeLimit: req.ConfirmationTimeLimit,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	warnings := res.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	c.JSON(http.StatusOK, JoinResponse{
		Message:              "Вступление в лист ожидания прошло успешно",
		Entry:                res.Entry,
		Position:             res.Position,
		EstimatedWaitMinutes: waitMinutes(res.EstimatedWait.EstimatedWait),
		Confidence:           string(res.EstimatedWait.Confidence),
		Warnings:             warnings,
	})
}

type LeaveRequest struct {
	Reason string `json:"reason"`
}

// Leave обрабатывает запрос на выход из листа ожидания
// @Summary		Выход из листа ожидания
// @Description	Отменяет запись. Администратор может отменить чужую запись
// @Tags			entries
// @Accept			json
// @Produce		json
// @Param			id		path	int				true	"ID записи"
// @Param			request	body	LeaveRequest	false	"Причина"
// @Security		BearerAuth
// @Success		200	{object}	map[string]interface{}
// @Failure		403	{object}	response.ErrorResponse	"Чужая запись (NOT_ENTRY_OWNER)"
// @Failure		404	{object}	response.ErrorResponse	"Запись не найдена (ENTRY_NOT_FOUND)"
// @Failure		409	{object}	response.ErrorResponse	"Запись уже закрыта (ALREADY_CANCELLED, ALREADY_CONFIRMED, INVALID_TRANSITION)"
// @Router			/api/entries/{id}/leave [post]
func (h *WaitlistHandler) Leave(c *gin.Context) {
	id, ok := entryID(c)
	if !ok {
		return
	}
	var req LeaveRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "VALIDATION_ERROR", "Ошибка валидации данных", err)
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "user left"
	}

	actor := waitlist.Actor{UserID: auth.UserID(c), Override: auth.IsAdmin(c)}
	res, err := h.engine.Leave(c.Request.Context(), id, actor, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":      "Вы успешно вышли из листа ожидания",
		"entry":        res.Removed,
		"next_in_line": res.NextInLine,
	})
}

// Confirm подтверждает предложенный слот
// @Summary		Подтверждение слота
// @Tags			entries
// @Produce		json
// @Param			id	path	int	true	"ID записи"
// @Security		BearerAuth
// @Success		200	{object}	map[string]interface{}
// @Failure		403	{object}	response.ErrorResponse	"Чужая запись (NOT_ENTRY_OWNER)"
// @Failure		409	{object}	response.ErrorResponse	"Запись не ждёт подтверждения (INVALID_TRANSITION, ALREADY_CONFIRMED)"
// @Failure		410	{object}	response.ErrorResponse	"Время на подтверждение истекло (CONFIRMATION_WINDOW_ELAPSED)"
// @Router			/api/entries/{id}/confirm [post]
func (h *WaitlistHandler) Confirm(c *gin.Context) {
	id, ok := entryID(c)
	if !ok {
		return
	}
	res, err := h.engine.Confirm(c.Request.Context(), id, auth.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":      "Слот подтверждён",
		"entry":        res.Confirmed,
		"next_in_line": res.NextInLine,
	})
}

// Reject отказывается от предложенного слота; слот сразу предлагается следующему
// @Summary		Отказ от слота
// @Tags			entries
// @Produce		json
// @Param			id	path	int	true	"ID записи"
// @Security		BearerAuth
// @Success		200	{object}	map[string]interface{}
// @Failure		403	{object}	response.ErrorResponse	"Чужая запись (NOT_ENTRY_OWNER)"
// @Failure		409	{object}	response.ErrorResponse	"Запись не ждёт подтверждения (INVALID_TRANSITION)"
// @Router			/api/entries/{id}/reject [post]
func (h *WaitlistHandler) Reject(c *gin.Context) {
	id, ok := entryID(c)
	if !ok {
		return
	}
	entry, err := h.engine.GetEntry(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if entry.UserID != auth.UserID(c) && !auth.IsAdmin(c) {
		c.JSON(http.StatusForbidden, response.ErrorResponse{
			Code:    "NOT_ENTRY_OWNER",
			Message: "Запись принадлежит другому пользователю",
		})
		return
	}

	res, err := h.engine.HandleExpiration(c.Request.Context(), id, waitlist.ExpirationUserRejected)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":       "Вы отказались от слота",
		"entry":         res.Expired,
		"next_notified": res.NextNotified,
	})
}

type EscalateRequest struct {
	Priority models.Priority `json:"priority" binding:"required" swaggertype:"string" example:"ADMIN"`
}

// Escalate повышает приоритет записи
// @Summary		Повышение приоритета
// @Tags			entries
// @Accept			json
// @Produce		json
// @Param			id		path	int				true	"ID записи"
// @Param			request	body	EscalateRequest	true	"Новый приоритет"
// @Security		BearerAuth
// @Success		200	{object}	map[string]interface{}
// @Failure		409	{object}	response.ErrorResponse	"Приоритет не выше текущего (MUST_ESCALATE_TO_HIGHER_PRIORITY)"
// @Router			/api/entries/{id}/escalate [post]
func (h *WaitlistHandler) Escalate(c *gin.Context) {
	id, ok := entryID(c)
	if !ok {
		return
	}
	var req EscalateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "VALIDATION_ERROR", "Ошибка валидации данных", err)
		return
	}
	res, err := h.engine.EscalatePriority(c.Request.Context(), id, req.Priority)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entry":    res.Escalated,
		"position": res.NewPosition,
		"affected": res.Affected,
	})
}

type SlotRequest struct {
	ResourceID uint      `json:"resource_id"`
	StartsAt   time.Time `json:"starts_at"`
	EndsAt     time.Time `json:"ends_at"`
}

type ReleaseSlotsRequest struct {
	Slots []SlotRequest `json:"slots"`
	// Число слотов без указания времени
	Count int `json:"count" binding:"min=0"`
}

// ReleaseSlots предлагает освободившиеся слоты ожидающим
// @Summary		Освобождение слотов
// @Description	Предлагает слоты участникам в порядке очереди. Недопущенные участники пропускаются
// @Tags			waiting-lists
// @Accept			json
// @Produce		json
// @Param			id		path	int					true	"ID листа ожидания"
// @Param			request	body	ReleaseSlotsRequest	true	"Слоты"
// @Security		BearerAuth
// @Success		200	{object}	map[string]interface{}
// @Failure		400	{object}	response.ErrorResponse	"Нет слотов (NO_SLOTS)"
// @Router			/api/waiting-lists/{id}/slots [post]
func (h *WaitlistHandler) ReleaseSlots(c *gin.Context) {
	id, ok := listID(c)
	if !ok {
		return
	}
	var req ReleaseSlotsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "VALIDATION_ERROR", "Ошибка валидации данных", err)
		return
	}

	now := time.Now()
	slots := make([]models.Slot, 0, len(req.Slots)+req.Count)
	for _, s := range req.Slots {
		slots = append(slots, models.Slot{
			WaitingListID: id,
			ResourceID:    s.ResourceID,
			StartsAt:      s.StartsAt,
			EndsAt:        s.EndsAt,
			ReleasedAt:    now,
		})
	}
	for i := 0; i < req.Count; i++ {
		slots = append(slots, models.Slot{WaitingListID: id, ReleasedAt: now})
	}
	if len(slots) == 0 {
		badRequest(c, "NO_SLOTS", "Не указано ни одного слота", nil)
		return
	}

	res, err := h.engine.ProcessAvailableSlots(c.Request.Context(), id, slots)
	if err != nil {
		respondError(c, err)
		return
	}
	// Предложения уже разосланы и сохранены: сбой журнала слотов не должен превращать их в ошибку.
	if err := h.lists.RecordSlots(c.Request.Context(), slots); err != nil {
		log.Printf("Не удалось записать %d слотов листа ожидания %d: %v", len(slots), id, err)
	}

	skipped := make([]gin.H, 0, len(res.Skipped))
	for _, s := range res.Skipped {
		skipped = append(skipped, gin.H{"entry": s.Entry, "reason": s.Reason})
	}
	c.JSON(http.StatusOK, gin.H{
		"notified":  res.Notified,
		"remaining": res.Remaining,
		"skipped":   skipped,
	})
}

// Reorder пересчитывает позиции
// @Summary		Пересчёт позиций
// @Tags			waiting-lists
// @Produce		json
// @Param			id	path	int	true	"ID листа ожидания"
// @Security		BearerAuth
// @Success		200	{object}	map[string]interface{}
// @Router			/api/waiting-lists/{id}/reorder [post]
func (h *WaitlistHandler) Reorder(c *gin.Context) {
	id, ok := listID(c)
	if !ok {
		return
	}
	res, err := h.engine.Reorder(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entries": res.Entries,
		"changes": res.Changes,
	})
}

// GetPosition возвращает место пользователя
// @Summary		Моя позиция
// @Tags			waiting-lists
// @Produce		json
// @Param			id	path	int	true	"ID листа ожидания"
// @Security		BearerAuth
// @Success		200	{object}	response.PositionResponse
// @Failure		404	{object}	response.ErrorResponse	"Пользователь не в очереди (NOT_IN_QUEUE)"
// @Router			/api/waiting-lists/{id}/position [get]
func (h *WaitlistHandler) GetPosition(c *gin.Context) {
	id, ok := listID(c)
	if !ok {
		return
	}
	info, err := h.engine.GetPosition(c.Request.Context(), id, auth.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	resp := response.PositionResponse{
		EntryID:  info.Entry.ID,
		Status:   string(info.Entry.Status),
		Position: info.Position,
		Ahead:    info.Ahead,
	}
	if info.Prediction != nil {
		resp.EstimatedWaitMinutes = waitMinutes(info.Prediction.EstimatedWait)
		resp.Confidence = string(info.Prediction.Confidence)
	}
	if info.Deadline != nil {
		resp.Deadline = info.Deadline.Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, resp)
}

// GetEstimate оценивает ожидание для нового участника
// @Summary		Оценка ожидания
// @Tags			waiting-lists
// @Produce		json
// @Param			id			path	int		true	"ID листа ожидания"
// @Param			priority	query	string	false	"Уровень приоритета (по умолчанию роль пользователя)"
// @Security		BearerAuth
// @Success		200	{object}	response.EstimateResponse
// @Router			/api/waiting-lists/{id}/estimate [get]
func (h *WaitlistHandler) GetEstimate(c *gin.Context) {
	id, ok := listID(c)
	if !ok {
		return
	}
	priority := auth.Role(c)
	if q := c.Query("priority"); q != "" {
		p, err := models.ParsePriority(q)
		if err != nil {
			badRequest(c, "INVALID_PRIORITY", "Неизвестный уровень приоритета", err)
			return
		}
		priority = p
	}
	p, err := h.engine.GetEstimatedWaitTime(c.Request.Context(), id, priority)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.EstimateResponse{
		Position:             p.Position,
		EstimatedWaitMinutes: waitMinutes(p.EstimatedWait),
		Confidence:           string(p.Confidence),
		SampleSize:           p.SampleSize,
	})
}

// GetStats возвращает сводку по листу ожидания
// @Summary		Статистика листа ожидания
// @Tags			waiting-lists
// @Produce		json
// @Param			id	path	int	true	"ID листа ожидания"
// @Security		BearerAuth
// @Success		200	{object}	map[string]interface{}
// @Router			/api/waiting-lists/{id}/stats [get]
func (h *WaitlistHandler) GetStats(c *gin.Context) {
	id, ok := listID(c)
	if !ok {
		return
	}
	stats, err := h.engine.GetStats(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"waiting_list_id":                stats.WaitingListID,
		"total":                          stats.Total,
		"by_status":                      stats.ByStatus,
		"average_processing_minutes":     waitMinutes(stats.AverageProcessingTime),
		"processing_samples":             stats.ProcessingSamples,
		"average_wait_to_notify_minutes": waitMinutes(stats.AverageWaitToNotify),
		"confirmation_rate":              stats.ConfirmationRate,
		"fairness":                       stats.Fairness,
	})
}

// GetFairness считает справедливость текущего порядка
// @Summary		Справедливость очереди
// @Tags			waiting-lists
// @Produce		json
// @Param			id	path	int	true	"ID листа ожидания"
// @Security		BearerAuth
// @Success		200	{object}	waitlist.FairnessReport
// @Router			/api/waiting-lists/{id}/fairness [get]
func (h *WaitlistHandler) GetFairness(c *gin.Context) {
	id, ok := listID(c)
	if !ok {
		return
	}
	report, err := h.engine.FairnessScore(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// CorrectFairness устраняет крупные инверсии приоритетов
// @Summary		Исправление инверсий
// @Tags			waiting-lists
// @Produce		json
// @Param			id	path	int	true	"ID листа ожидания"
// @Security		BearerAuth
// @Success		200	{object}	waitlist.FairnessCorrection
// @Router			/api/waiting-lists/{id}/fairness [post]
func (h *WaitlistHandler) CorrectFairness(c *gin.Context) {
	id, ok := listID(c)
	if !ok {
		return
	}
	res, err := h.engine.CorrectFairness(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Close закрывает лист ожидания и отменяет ожидающие записи
// @Summary		Закрытие листа ожидания
// @Tags			waiting-lists
// @Produce		json
// @Param			id	path	int	true	"ID листа ожидания"
// @Security		BearerAuth
// @Success		200	{object}	map[string]interface{}
// @Router			/api/waiting-lists/{id}/close [post]
func (h *WaitlistHandler) Close(c *gin.Context) {
	id, ok := listID(c)
	if !ok {
		return
	}
	res, err := h.engine.CloseWaitingList(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"waiting_list": res.WaitingList,
		"cancelled":    res.Cancelled,
	})
}

type PenaltyRequest struct {
	UserID  uint   `json:"user_id" binding:"required"`
	Reason  string `json:"reason"`
	Minutes int    `json:"minutes" binding:"required,min=1"`
}

// Penalize временно запрещает пользователю бронирование
// @Summary		Штраф пользователю
// @Tags			admin
// @Accept			json
// @Produce		json
// @Param			request	body	PenaltyRequest	true	"Параметры штрафа"
// @Security		BearerAuth
// @Success		200	{object}	response.SuccessResponse
// @Router			/api/admin/penalties [post]
func (h *WaitlistHandler) Penalize(c *gin.Context) {
	var req PenaltyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "VALIDATION_ERROR", "Ошибка валидации данных", err)
		return
	}
	err := h.penalties.Penalize(c.Request.Context(), req.UserID, req.Reason, time.Duration(req.Minutes)*time.Minute)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, response.ErrorResponse{
			Code:    "UPSTREAM_UNAVAILABLE",
			Message: "Не удалось сохранить штраф",
			Details: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, response.SuccessResponse{Message: "Штраф назначен"})
}

// WebSocket подписывает клиента на события листа ожидания и личные уведомления
// URL-пример: /api/waiting-lists/{id}/ws?token=...
func (h *WaitlistHandler) WebSocket(c *gin.Context) {
	id, ok := listID(c)
	if !ok {
		return
	}
	// Upgrader сам отвечает клиенту при ошибке.
	if err := h.hub.Serve(c.Writer, c.Request, id, auth.UserID(c)); err != nil {
		log.Println("Ошибка обновления до WebSocket:", err)
	}
}
