// Package sessionreg persiste el estado de sesión del portal: el
// SessionRecord activo (a lo sumo uno), el marker de login federado en
// curso y el flag de demo.
//
// Es la única fuente de verdad de "qué modo está activo". Escribe solo el
// orquestador; el resto lee.
package sessionreg

import (
	"context"

	"github.com/dropDatabas3/doorman/internal/domain/types"
)

// Registry define las operaciones del session registry.
type Registry interface {
	// Active retorna la sesión activa o types.ErrNotFound.
	Active(ctx context.Context) (*types.SessionRecord, error)
	// Commit reemplaza la sesión activa. Es el último paso de una
	// transición: después de esto el nuevo estado es durable.
	Commit(ctx context.Context, rec types.SessionRecord) error
	// Invalidate borra la sesión activa. No-op si no hay.
	Invalidate(ctx context.Context) error

	// SetPending persiste el marker de autenticación en curso con su token
	// de correlación (redirect federado que cruza una navegación).
	SetPending(ctx context.Context, p types.PendingAuth) error
	// Pending retorna el marker o types.ErrNotFound.
	Pending(ctx context.Context) (*types.PendingAuth, error)
	// ClearPending borra el marker. No-op si no hay.
	ClearPending(ctx context.Context) error

	// SetDemo prende/apaga el flag de demo explícito.
	SetDemo(ctx context.Context, enabled bool) error
	// DemoEnabled lee el flag.
	DemoEnabled(ctx context.Context) (bool, error)
}
