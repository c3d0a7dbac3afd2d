// Package types define tipos de dominio compartidos entre paquetes.
package types

import "time"

// AuthMode identifica el modo de autenticación activo del portal.
type AuthMode string

const (
	// AuthModeUnconfigured es el estado inicial: sin credencial y sin sesión.
	AuthModeUnconfigured AuthMode = "Unconfigured"
	// AuthModeFederated usa identidad delegada contra el identity provider (interactivo o silent).
	AuthModeFederated AuthMode = "Federated"
	// AuthModeServicePrincipal usa client-credentials con un secret almacenado (identidad app-only).
	AuthModeServicePrincipal AuthMode = "ServicePrincipal"
	// AuthModeBrokered usa el session broker del backend: handle opaco, sin material de token local.
	AuthModeBrokered AuthMode = "Brokered"
	// AuthModeDemo fabrica una identidad sintética, sin red.
	AuthModeDemo AuthMode = "Demo"
)

// IsValid retorna true si el modo es conocido.
func (m AuthMode) IsValid() bool {
	switch m {
	case AuthModeUnconfigured, AuthModeFederated, AuthModeServicePrincipal, AuthModeBrokered, AuthModeDemo:
		return true
	}
	return false
}

// Interactive retorna true si el modo requiere interacción del usuario para autenticar.
func (m AuthMode) Interactive() bool { return m == AuthModeFederated }

// TenantCredential es la configuración tenant/aplicación persistida.
// Completa = TenantID y ApplicationID no vacíos. SharedSecret es opcional;
// su presencia selecciona ServicePrincipal por sobre Federated/Brokered.
type TenantCredential struct {
	TenantID      string `json:"tenantId" yaml:"tenant_id"`
	ApplicationID string `json:"applicationId" yaml:"application_id"`
	SharedSecret  string `json:"sharedSecret,omitempty" yaml:"-"`
}

// Complete indica si la credencial alcanza para configurar un modo.
func (c TenantCredential) Complete() bool {
	return c.TenantID != "" && c.ApplicationID != ""
}

// HasSecret indica si hay un shared secret presente.
func (c TenantCredential) HasSecret() bool { return c.SharedSecret != "" }

// IdentitySummary describe la identidad autenticada que ve la UI.
// IsSynthetic es lo ÚNICO que puede condicionar comportamiento demo-only.
type IdentitySummary struct {
	DisplayName   string   `json:"displayName" yaml:"display_name"`
	PrincipalName string   `json:"principalName" yaml:"principal_name"`
	AuthMode      AuthMode `json:"authMode" yaml:"auth_mode"`
	IsSynthetic   bool     `json:"isSynthetic" yaml:"is_synthetic,omitempty"`
}

// SessionRecord es la sesión activa persistida. A lo sumo existe una.
// Handle es opaco para todo el mundo salvo el TokenProvider que lo emitió.
type SessionRecord struct {
	Mode      AuthMode        `json:"mode" yaml:"mode"`
	Handle    string          `json:"handle" yaml:"handle"`
	Identity  IdentitySummary `json:"identity" yaml:"identity"`
	IssuedAt  time.Time       `json:"issuedAt" yaml:"issued_at"`
	ExpiresAt *time.Time      `json:"expiresAt,omitempty" yaml:"expires_at,omitempty"`
}

// Expired retorna true si la sesión tiene expiración y ya pasó.
func (s *SessionRecord) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && !s.ExpiresAt.After(now)
}

// PendingAuth marca un login federado en curso que cruza un redirect.
// Se persiste junto a la sesión para que el callback (posiblemente una
// navegación de página completa después) re-enganche la operación lógica
// en vez de arrancar una nueva.
type PendingAuth struct {
	Correlation string    `json:"correlation" yaml:"correlation"`
	Mode        AuthMode  `json:"mode" yaml:"mode"`
	Nonce       string    `json:"nonce" yaml:"nonce"`
	StartedAt   time.Time `json:"startedAt" yaml:"started_at"`
}
