// Package directory es el cliente del servicio de directorio (usuarios,
// grupos, dispositivos) que consume el portal. Dos implementaciones: la
// REST real y la demo con datos sintéticos.
package directory

import (
	"context"
	"time"
)

// User es una cuenta del directorio.
type User struct {
	ID            string     `json:"id"`
	DisplayName   string     `json:"displayName"`
	PrincipalName string     `json:"principalName"`
	Department    string     `json:"department,omitempty"`
	Enabled       bool       `json:"enabled"`
	CreatedAt     *time.Time `json:"createdAt,omitempty"`
}

// Group es un grupo de seguridad o distribución.
type Group struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Description string `json:"description,omitempty"`
	MemberCount int    `json:"memberCount"`
}

// Device es un equipo enrolado.
type Device struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"displayName"`
	OS          string     `json:"os,omitempty"`
	Compliant   bool       `json:"compliant"`
	LastSeen    *time.Time `json:"lastSeen,omitempty"`
}

// Client define las operaciones del directorio que expone el portal.
// Todas retornan types.ErrSessionExpired cuando el backend rechaza la
// credencial vigente, para que el caller dispare la renovación.
type Client interface {
	ListUsers(ctx context.Context) ([]User, error)
	GetUser(ctx context.Context, id string) (*User, error)
	CreateUser(ctx context.Context, u User) (*User, error)
	DeleteUser(ctx context.Context, id string) error

	ListGroups(ctx context.Context) ([]Group, error)
	GetGroup(ctx context.Context, id string) (*Group, error)

	ListDevices(ctx context.Context) ([]Device, error)
	GetDevice(ctx context.Context, id string) (*Device, error)
}

// TokenSource produce el bearer vigente para cada request. El router lo
// arma según el modo activo (access token federado o handle del broker).
type TokenSource func(ctx context.Context) (string, error)
