package orchestrator

import (
	"sync"
	"time"

	"github.com/dropDatabas3/doorman/internal/domain/types"
)

// Event es la notificación de una transición commiteada: entrada a Active
// o a Unconfigured. Las transiciones fallidas no emiten evento; resuelven
// la operación del caller directamente.
type Event struct {
	State   State
	Mode    types.AuthMode
	Session *types.SessionRecord
	At      time.Time
}

// Listener consume eventos. Se invoca sincrónicamente y en orden de
// commit; tiene que ser rápido y no bloquear.
type Listener func(Event)

// notifier reemplaza el señalamiento ad hoc entre componentes por un canal
// único con garantías: entrega ordenada, a lo sumo una por transición, y
// siempre después de que los writes a los stores son durables.
type notifier struct {
	mu        sync.RWMutex
	listeners []Listener
}

func (n *notifier) subscribe(l Listener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listeners = append(n.listeners, l)
}

// emit entrega el evento a todos los listeners. Lo llama el orquestador
// con la operación en vuelo todavía tomada, así que dos commits nunca se
// intercalan.
func (n *notifier) emit(ev Event) {
	n.mu.RLock()
	ls := make([]Listener, len(n.listeners))
	copy(ls, n.listeners)
	n.mu.RUnlock()
	for _, l := range ls {
		l(ev)
	}
}
