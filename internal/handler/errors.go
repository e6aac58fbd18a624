package handler

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/rajpalom13/move-meal-sub000/internal/cluster"
	"github.com/rajpalom13/move-meal-sub000/internal/locker"
	"github.com/rajpalom13/move-meal-sub000/internal/repository"
)

// lockRetryAfter задаёт Retry-After при занятом кластере, в секундах.
const lockRetryAfter = "1"

type errorResponse struct {
	Error string `json:"error"`
}

var errorStatuses = []struct {
	err    error
	status int
}{
	{repository.ErrClusterNotFound, http.StatusNotFound},
	{cluster.ErrNotAMember, http.StatusNotFound},
	{cluster.ErrForbidden, http.StatusForbidden},
	{cluster.ErrInvalidTransition, http.StatusConflict},
	{cluster.ErrNotAccepting, http.StatusConflict},
	{cluster.ErrCapacityExceeded, http.StatusConflict},
	{cluster.ErrAlreadyMember, http.StatusConflict},
	{cluster.ErrAlreadyCollected, http.StatusConflict},
	{cluster.ErrCodeSpaceExhausted, http.StatusConflict},
	{repository.ErrVersionConflict, http.StatusConflict},
	{cluster.ErrInvalidCode, http.StatusUnprocessableEntity},
	{cluster.ErrInvalidPayload, http.StatusBadRequest},
	{locker.ErrLockTimeout, http.StatusServiceUnavailable},
	{context.DeadlineExceeded, http.StatusServiceUnavailable},
}

// statusFor возвращает HTTP-статус для ошибки и признак известной ошибки.
func statusFor(err error) (int, bool) {
	for _, e := range errorStatuses {
		if errors.Is(err, e.err) {
			return e.status, true
		}
	}
	return http.StatusInternalServerError, false
}

func (h *Handler) writeError(w http.ResponseWriter, err error, op string, fields ...zap.Field) {
	status, known := statusFor(err)
	if !known {
		h.logger.Error(op+" error", append(fields, zap.Error(err))...)
		writeJSON(w, status, errorResponse{Error: http.StatusText(status)})
		return
	}

	if status == http.StatusServiceUnavailable {
		h.logger.Warn(op+" unavailable", append(fields, zap.Error(err))...)
		w.Header().Set("Retry-After", lockRetryAfter)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
