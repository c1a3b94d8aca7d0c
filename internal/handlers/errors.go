package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"waitlist_backend/internal/errs"
	"waitlist_backend/internal/response"
)

var kindStatus = []struct {
	kind   error
	status int
}{
	{errs.NotFound, http.StatusNotFound},
	{errs.AlreadyExpired, http.StatusGone},
	{errs.InvalidTransition, http.StatusConflict},
	{errs.Conflict, http.StatusConflict},
	{errs.Forbidden, http.StatusForbidden},
	{errs.InvalidArgument, http.StatusBadRequest},
	{errs.UpstreamUnavailable, http.StatusServiceUnavailable},
}

// respondError отдаёт ошибку движка с кодом для программной обработки.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	for _, ks := range kindStatus {
		if errors.Is(err, ks.kind) {
			status = ks.status
			break
		}
	}

	resp := response.ErrorResponse{Code: "INTERNAL_ERROR", Message: "Внутренняя ошибка сервера"}
	var e *errs.Error
	if errors.As(err, &e) {
		resp.Code = e.Code
		resp.Message = e.Message
		if e.Cause != nil {
			resp.Details = e.Cause.Error()
		}
	} else {
		resp.Details = err.Error()
	}
	c.JSON(status, resp)
}

func badRequest(c *gin.Context, code, message string, err error) {
	resp := response.ErrorResponse{Code: code, Message: message}
	if err != nil {
		resp.Details = err.Error()
	}
	c.JSON(http.StatusBadRequest, resp)
}

// idParam читает положительный числовой параметр пути.
func idParam(c *gin.Context, name, code, message string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		badRequest(c, code, message, nil)
		return 0, false
	}
	return uint(id), true
}
