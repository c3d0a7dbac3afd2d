package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

type mem struct{ c *gocache.Cache }

// NewMemory crea un cache in-process (dev/testing y single-node).
func NewMemory(defaultTTL time.Duration) Cache {
	return &mem{c: gocache.New(defaultTTL, time.Minute)}
}

func (m *mem) Get(k string) ([]byte, bool) {
	v, ok := m.c.Get(k)
	if !ok {
		return nil, false
	}
	b, _ := v.([]byte)
	return b, true
}

func (m *mem) Set(k string, v []byte, ttl time.Duration) { m.c.Set(k, v, ttl) }
func (m *mem) Delete(k string)                           { m.c.Delete(k) }
