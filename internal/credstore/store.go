// Package credstore persiste la TenantCredential del portal.
//
// Dueño único de la credencial: solo el orquestador escribe. Save
// sobreescribe el registro completo; updates parciales son load → mutar →
// save del caller.
package credstore

import (
	"context"

	"github.com/dropDatabas3/doorman/internal/domain/types"
)

// Store define las operaciones del credential store.
type Store interface {
	// Save sobreescribe cualquier registro previo, sin merge parcial.
	Save(ctx context.Context, cred types.TenantCredential) error
	// Load retorna la credencial o types.ErrNotFound.
	Load(ctx context.Context) (*types.TenantCredential, error)
	// Clear elimina el registro. Debe llamarse antes de habilitar demo para
	// que un reload no resuelva ServicePrincipal con un secret viejo.
	Clear(ctx context.Context) error
}
