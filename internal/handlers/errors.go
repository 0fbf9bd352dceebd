package handlers

import (
	"context"
	"net/http"

	"github.com/hanko-field/clinic-commerce/internal/platform/httpx"
	"github.com/hanko-field/clinic-commerce/internal/platform/observability"
	"github.com/hanko-field/clinic-commerce/internal/services"
	"go.uber.org/zap"
)

var kindStatus = map[services.Kind]int{
	services.KindValidation:                http.StatusBadRequest,
	services.KindInvalidTimeFormat:         http.StatusBadRequest,
	services.KindPaymentVerificationFailed: http.StatusBadRequest,
	services.KindNotFound:                  http.StatusNotFound,
	services.KindForbidden:                 http.StatusForbidden,
	services.KindInsufficientStock:         http.StatusConflict,
	services.KindSlotConflict:              http.StatusConflict,
	services.KindHolidayClosed:             http.StatusConflict,
	services.KindOutsideWorkingHours:       http.StatusConflict,
	services.KindInvalidTransition:         http.StatusConflict,
}

// writeServiceError maps the service error taxonomy onto the JSON error envelope. Internal
// failures never leak their message.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	kind := services.ErrorKind(err)
	status, ok := kindStatus[kind]
	if !ok {
		observability.FromContext(ctx).Error("request failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError(string(services.KindInternal), "internal error", http.StatusInternalServerError))
		return
	}

	apiErr := httpx.NewError(string(kind), err.Error(), status)
	if fields := services.FieldErrors(err); len(fields) > 0 {
		apiErr = apiErr.WithFields(fields)
	}
	httpx.WriteError(ctx, w, apiErr)
}
