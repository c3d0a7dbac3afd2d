package types

import "errors"

// Taxonomía de errores del core de autenticación. Los handlers HTTP los
// mapean a categorías estables para la UI; acá son sentinelas comparables
// con errors.Is.
var (
	// ErrInvalidConfiguration: tenant o application ID faltante/malformado.
	// Validación local, nunca llega a la red ni muta estado persistido.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrCredentialExchangeFailed: el backend rechazó el secret o el tenant.
	ErrCredentialExchangeFailed = errors.New("credential exchange failed")

	// ErrSessionActivationFailed: el exchange anduvo pero la validación del
	// handle falló o expiró. El handle parcial se descarta siempre.
	ErrSessionActivationFailed = errors.New("session activation failed")

	// ErrInteractiveSignInCancelled: el usuario abandonó el flujo redirect.
	ErrInteractiveSignInCancelled = errors.New("interactive sign-in cancelled")

	// ErrOperationInProgress: ya hay un configure/authenticate/signOut en vuelo.
	ErrOperationInProgress = errors.New("operation in progress")

	// ErrSessionExpired se detecta lazy, en una llamada protegida al
	// directorio, nunca durante authenticate.
	ErrSessionExpired = errors.New("session expired")

	// ErrStoreUnavailable: el store de credenciales/sesiones no responde.
	// Se reporta, no se reintenta.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrNotFound lo retornan los stores cuando no hay registro.
	ErrNotFound = errors.New("not found")
)
