// Package provider implementa los TokenProvider, uno por modo de
// autenticación. El orquestador maneja la secuencia y el rollback; acá vive
// solo la mecánica de adquisición de cada modo.
package provider

import (
	"context"
	"time"

	"github.com/dropDatabas3/doorman/internal/domain/types"
)

// Token es el resultado de una adquisición. Handle es lo único que se
// persiste en el SessionRecord; el resto es material en memoria del proceso.
type Token struct {
	Handle    string
	Identity  types.IdentitySummary
	ExpiresAt *time.Time
	// Refresh es material de renovación silenciosa (solo federated).
	Refresh string
	// Activated lo marca el paso de validación post-exchange.
	Activated bool
}

// TokenProvider es la capacidad común a todos los modos.
type TokenProvider interface {
	Mode() types.AuthMode

	// IsValid verifica que la sesión siga sirviendo para su modo.
	IsValid(ctx context.Context, rec *types.SessionRecord) bool

	// SignOut revoca lo que el modo tenga para revocar. Best effort: un
	// broker caído no debe impedir el sign-out local.
	SignOut(ctx context.Context, rec *types.SessionRecord) error

	// Renew intenta renovación silenciosa ante una sesión expirada.
	// Retorna types.ErrSessionExpired si el modo no puede renovar sin
	// interacción.
	Renew(ctx context.Context, rec *types.SessionRecord) (*Token, error)
}

// NonInteractive agrupa los modos que autentican sin usuario presente:
// ServicePrincipal, Brokered y Demo. El orquestador ejecuta Exchange y
// Activate como dos pasos separados porque el commit y el rollback son
// suyos, no del provider.
type NonInteractive interface {
	TokenProvider

	// Exchange es el paso (a): credencial → handle sin activar.
	Exchange(ctx context.Context) (*Token, error)

	// Activate es el paso (b): confirma el handle. Marca tok.Activated.
	Activate(ctx context.Context, tok *Token) error

	// Discard descarta un handle que quedó a medio crear (exchange ok,
	// activación fallida). Best effort.
	Discard(ctx context.Context, tok *Token)
}

// Interactive es el modo federado: la adquisición cruza un redirect que
// puede abarcar una navegación de página completa.
type Interactive interface {
	TokenProvider

	// Begin arma la URL de autorización y el marker persistible que
	// permite re-enganchar la operación en el callback.
	Begin(ctx context.Context) (authURL string, pending types.PendingAuth, err error)

	// Complete canjea el code del callback y valida el id_token contra el
	// nonce del marker.
	Complete(ctx context.Context, pending types.PendingAuth, code string) (*Token, error)
}
