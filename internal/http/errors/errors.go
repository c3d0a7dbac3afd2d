package errors

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dropDatabas3/doorman/internal/domain/types"
)

// errorResponse estructura interna para la serialización JSON.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// FromError mapea un error de dominio a su AppError. Los sentinelas del
// ciclo de autenticación tienen status y código fijos; todo lo demás es
// un 500 genérico que conserva la causa para los logs.
func FromError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	switch {
	case errors.Is(err, types.ErrInvalidConfiguration):
		return ErrInvalidConfiguration.WithCause(err)
	case errors.Is(err, types.ErrCredentialExchangeFailed):
		return ErrCredentialExchange.WithCause(err)
	case errors.Is(err, types.ErrSessionActivationFailed):
		return ErrSessionActivation.WithCause(err)
	case errors.Is(err, types.ErrInteractiveSignInCancelled):
		return ErrSignInCancelled.WithCause(err)
	case errors.Is(err, types.ErrOperationInProgress):
		return ErrOperationInProgress.WithCause(err)
	case errors.Is(err, types.ErrSessionExpired):
		return ErrSessionExpired.WithCause(err)
	case errors.Is(err, types.ErrNotFound):
		return ErrNotFound.WithCause(err)
	case errors.Is(err, types.ErrStoreUnavailable):
		return ErrStoreUnavailable.WithCause(err)
	}
	return ErrInternalServerError.WithCause(err)
}

// WriteError escribe la respuesta HTTP basada en el error proporcionado.
func WriteError(w http.ResponseWriter, err error) {
	appErr := FromError(err)

	resp := errorResponse{
		Code:    appErr.Code,
		Message: appErr.Message,
		Detail:  appErr.Detail,
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(appErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(resp)
}
