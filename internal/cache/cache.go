// Package cache provee un cache de bytes con backend memoria o Redis.
//
// Lo usan el cliente OIDC (JWKS, discovery) y el probe de salud del broker.
package cache

import "time"

// Cache es la interfaz mínima que consumen los clientes.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration)
	Delete(key string)
}

// Config selecciona el backend.
type Config struct {
	Driver     string // "memory" | "redis"
	RedisAddr  string
	RedisDB    int
	Prefix     string
	DefaultTTL time.Duration
}

// New crea el cache según la configuración. Default: memoria.
func New(cfg Config) Cache {
	switch cfg.Driver {
	case "redis":
		return NewRedis(cfg.RedisAddr, cfg.RedisDB, cfg.Prefix)
	default:
		ttl := cfg.DefaultTTL
		if ttl == 0 {
			ttl = 5 * time.Minute
		}
		return NewMemory(ttl)
	}
}
