package directory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/doorman/internal/domain/types"
)

// demoClient sirve datos sintéticos en memoria, sin red. Los writes mutan
// el set local para que la demo se sienta viva; nada persiste.
type demoClient struct {
	mu      sync.RWMutex
	users   map[string]User
	groups  map[string]Group
	devices map[string]Device
}

// NewDemo crea el cliente demo con el dataset de fábrica.
func NewDemo() Client {
	now := time.Now().UTC()
	lastWeek := now.Add(-7 * 24 * time.Hour)

	d := &demoClient{
		users:   make(map[string]User),
		groups:  make(map[string]Group),
		devices: make(map[string]Device),
	}
	for _, u := range []User{
		{ID: "u-0001", DisplayName: "Ana Torres", PrincipalName: "ana.torres@example.test", Department: "People Ops", Enabled: true, CreatedAt: &lastWeek},
		{ID: "u-0002", DisplayName: "Bruno Díaz", PrincipalName: "bruno.diaz@example.test", Department: "IT", Enabled: true, CreatedAt: &lastWeek},
		{ID: "u-0003", DisplayName: "Carla Méndez", PrincipalName: "carla.mendez@example.test", Department: "Finance", Enabled: false, CreatedAt: &lastWeek},
	} {
		d.users[u.ID] = u
	}
	for _, g := range []Group{
		{ID: "g-0001", DisplayName: "All Employees", Description: "Todo el personal", MemberCount: 3},
		{ID: "g-0002", DisplayName: "IT Admins", MemberCount: 1},
	} {
		d.groups[g.ID] = g
	}
	for _, dev := range []Device{
		{ID: "d-0001", DisplayName: "LAPTOP-ANA", OS: "Windows 11", Compliant: true, LastSeen: &now},
		{ID: "d-0002", DisplayName: "MBP-BRUNO", OS: "macOS 15", Compliant: true, LastSeen: &now},
		{ID: "d-0003", DisplayName: "DESK-CARLA", OS: "Windows 10", Compliant: false, LastSeen: &lastWeek},
	} {
		d.devices[dev.ID] = dev
	}
	return d
}

func (d *demoClient) ListUsers(_ context.Context) ([]User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]User, 0, len(d.users))
	for _, u := range d.users {
		out = append(out, u)
	}
	return out, nil
}

func (d *demoClient) GetUser(_ context.Context, id string) (*User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return &u, nil
}

func (d *demoClient) CreateUser(_ context.Context, u User) (*User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if u.ID == "" {
		u.ID = fmt.Sprintf("u-%s", uuid.NewString()[:8])
	}
	now := time.Now().UTC()
	u.CreatedAt = &now
	d.users[u.ID] = u
	return &u, nil
}

func (d *demoClient) DeleteUser(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.users[id]; !ok {
		return types.ErrNotFound
	}
	delete(d.users, id)
	return nil
}

func (d *demoClient) ListGroups(_ context.Context) ([]Group, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Group, 0, len(d.groups))
	for _, g := range d.groups {
		out = append(out, g)
	}
	return out, nil
}

func (d *demoClient) GetGroup(_ context.Context, id string) (*Group, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	g, ok := d.groups[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return &g, nil
}

func (d *demoClient) ListDevices(_ context.Context) ([]Device, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Device, 0, len(d.devices))
	for _, dev := range d.devices {
		out = append(out, dev)
	}
	return out, nil
}

func (d *demoClient) GetDevice(_ context.Context, id string) (*Device, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	dev, ok := d.devices[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return &dev, nil
}
