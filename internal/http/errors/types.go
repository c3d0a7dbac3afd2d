package errors

import (
	"fmt"
	"net/http"
)

// AppError define la estructura estándar para errores de la API
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
	HTTPStatus int    `json:"-"` // No se serializa, usado para el header
	Err        error  `json:"-"` // Error original (causa), útil para logs
}

// Error implementa la interfaz error
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap permite acceder al error original
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail agrega detalles adicionales. Devuelve una COPIA para no mutar
// las variables globales base.
func (e *AppError) WithDetail(detail string) *AppError {
	newErr := *e
	newErr.Detail = detail
	return &newErr
}

// WithCause agrega el error original (causa). Devuelve una COPIA.
func (e *AppError) WithCause(err error) *AppError {
	newErr := *e
	newErr.Err = err
	return &newErr
}

// =================================================================================
// LISTA DE ERRORES PREDEFINIDOS
// =================================================================================

var (
	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "La solicitud contiene sintaxis inválida o parámetros faltantes.",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrInvalidJSON = &AppError{
		Code:       "INVALID_JSON",
		Message:    "El cuerpo de la solicitud no es un JSON válido.",
		HTTPStatus: http.StatusBadRequest,
	}

	// ErrInvalidConfiguration: la credencial no alcanza para el modo pedido.
	ErrInvalidConfiguration = &AppError{
		Code:       "INVALID_CONFIGURATION",
		Message:    "La configuración de tenant/aplicación es inválida o incompleta.",
		HTTPStatus: http.StatusUnprocessableEntity,
	}

	// ErrCredentialExchange: el paso (a) de la adquisición falló.
	ErrCredentialExchange = &AppError{
		Code:       "CREDENTIAL_EXCHANGE_FAILED",
		Message:    "El intercambio de la credencial fue rechazado.",
		HTTPStatus: http.StatusBadGateway,
	}

	// ErrSessionActivation: el paso (b) falló; no quedó sesión parcial.
	ErrSessionActivation = &AppError{
		Code:       "SESSION_ACTIVATION_FAILED",
		Message:    "La sesión no pudo activarse; no se aplicó ningún cambio.",
		HTTPStatus: http.StatusBadGateway,
	}

	ErrSignInCancelled = &AppError{
		Code:       "SIGN_IN_CANCELLED",
		Message:    "El inicio de sesión interactivo fue cancelado o venció.",
		HTTPStatus: http.StatusConflict,
	}

	// ErrOperationInProgress: ya hay una transición en vuelo.
	ErrOperationInProgress = &AppError{
		Code:       "OPERATION_IN_PROGRESS",
		Message:    "Hay otra operación de autenticación en curso.",
		HTTPStatus: http.StatusConflict,
	}

	ErrSessionExpired = &AppError{
		Code:       "SESSION_EXPIRED",
		Message:    "La sesión expiró y no pudo renovarse.",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "El recurso solicitado no existe.",
		HTTPStatus: http.StatusNotFound,
	}

	ErrStoreUnavailable = &AppError{
		Code:       "STORE_UNAVAILABLE",
		Message:    "El almacenamiento de sesión/credencial no está disponible.",
		HTTPStatus: http.StatusServiceUnavailable,
	}

	ErrInternalServerError = &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    "Ocurrió un error interno inesperado.",
		HTTPStatus: http.StatusInternalServerError,
	}
)
