// Package config carga la configuración de doorman desde YAML con
// overrides por variables de entorno (DOORMAN_*).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env string `yaml:"env"`
	} `yaml:"app"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	// Storage configura dónde persisten credencial y sesión.
	Storage struct {
		// Driver del credential store: fs | memory
		CredentialDriver string `yaml:"credential_driver"`
		// Driver del session registry: fs | memory | redis | postgres
		SessionDriver string `yaml:"session_driver"`
		FSRoot        string `yaml:"fs_root"`
		Redis         struct {
			Addr   string `yaml:"addr"`
			DB     int    `yaml:"db"`
			Prefix string `yaml:"prefix"`
		} `yaml:"redis"`
		Postgres struct {
			DSN string `yaml:"dsn"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	Cache struct {
		Kind  string `yaml:"kind"` // memory | redis
		Redis struct {
			Addr   string `yaml:"addr"`
			DB     int    `yaml:"db"`
			Prefix string `yaml:"prefix"`
		} `yaml:"redis"`
		DefaultTTL string `yaml:"default_ttl"`
	} `yaml:"cache"`

	// IdP: parámetros del identity provider federado. Entrada read-only.
	IdP struct {
		Issuer      string   `yaml:"issuer"`
		ClientID    string   `yaml:"client_id"`
		RedirectURL string   `yaml:"redirect_url"`
		Scopes      []string `yaml:"scopes"` // default: openid,email,profile
	} `yaml:"idp"`

	// Broker: session broker del backend (modo Brokered y ServicePrincipal).
	Broker struct {
		BaseURL string `yaml:"base_url"`
		Timeout string `yaml:"timeout"`
		// ProbeTTL: cuánto se cachea el resultado del healthcheck que decide
		// Brokered vs Federated para credenciales sin secret.
		ProbeTTL string `yaml:"probe_ttl"`
	} `yaml:"broker"`

	Auth struct {
		Activation struct {
			// Timeout del paso de validación post-exchange.
			Timeout string `yaml:"timeout"`
			// CommitOnTimeout preserva el sesgo original: si el exchange
			// anduvo y hubo señal corroborante, commitear Active aunque la
			// validación haya expirado. Configurable a pedido de producto.
			CommitOnTimeout *bool `yaml:"commit_on_timeout"`
		} `yaml:"activation"`
		// PendingTTL: vida del marker de login federado en curso.
		PendingTTL string `yaml:"pending_ttl"`
	} `yaml:"auth"`

	Directory struct {
		BaseURL string `yaml:"base_url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"directory"`
}

// Load lee el YAML, aplica defaults, overrides de env y valida.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, err
		}
	}

	// sane defaults
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Storage.CredentialDriver == "" {
		c.Storage.CredentialDriver = "fs"
	}
	if c.Storage.SessionDriver == "" {
		c.Storage.SessionDriver = "fs"
	}
	if c.Storage.FSRoot == "" {
		c.Storage.FSRoot = "./data/doorman"
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.Cache.DefaultTTL == "" {
		c.Cache.DefaultTTL = "5m"
	}
	if len(c.IdP.Scopes) == 0 {
		c.IdP.Scopes = []string{"openid", "email", "profile"}
	}
	if c.Broker.Timeout == "" {
		c.Broker.Timeout = "10s"
	}
	if c.Broker.ProbeTTL == "" {
		c.Broker.ProbeTTL = "30s"
	}
	if c.Auth.Activation.Timeout == "" {
		c.Auth.Activation.Timeout = "8s"
	}
	if c.Auth.Activation.CommitOnTimeout == nil {
		t := true // comportamiento original del portal
		c.Auth.Activation.CommitOnTimeout = &t
	}
	if c.Auth.PendingTTL == "" {
		c.Auth.PendingTTL = "10m"
	}
	if c.Directory.Timeout == "" {
		c.Directory.Timeout = "15s"
	}

	c.applyEnvOverrides()

	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) validate() error {
	for _, d := range []struct{ name, val string }{
		{"cache.default_ttl", c.Cache.DefaultTTL},
		{"broker.timeout", c.Broker.Timeout},
		{"broker.probe_ttl", c.Broker.ProbeTTL},
		{"auth.activation.timeout", c.Auth.Activation.Timeout},
		{"auth.pending_ttl", c.Auth.PendingTTL},
		{"directory.timeout", c.Directory.Timeout},
	} {
		if _, err := time.ParseDuration(d.val); err != nil {
			return fmt.Errorf("config: %s: %w", d.name, err)
		}
	}
	switch c.Storage.SessionDriver {
	case "fs", "memory", "redis", "postgres":
	default:
		return fmt.Errorf("config: storage.session_driver desconocido: %q", c.Storage.SessionDriver)
	}
	switch c.Storage.CredentialDriver {
	case "fs", "memory":
	default:
		return fmt.Errorf("config: storage.credential_driver desconocido: %q", c.Storage.CredentialDriver)
	}
	return nil
}

// Duraciones ya validadas.

func (c *Config) BrokerTimeout() time.Duration     { return mustDur(c.Broker.Timeout) }
func (c *Config) BrokerProbeTTL() time.Duration    { return mustDur(c.Broker.ProbeTTL) }
func (c *Config) ActivationTimeout() time.Duration { return mustDur(c.Auth.Activation.Timeout) }
func (c *Config) PendingTTL() time.Duration        { return mustDur(c.Auth.PendingTTL) }
func (c *Config) CacheDefaultTTL() time.Duration   { return mustDur(c.Cache.DefaultTTL) }
func (c *Config) DirectoryTimeout() time.Duration  { return mustDur(c.Directory.Timeout) }
func (c *Config) CommitOnTimeout() bool            { return *c.Auth.Activation.CommitOnTimeout }

func mustDur(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}

// applyEnvOverrides pisa el YAML con variables de entorno.
func (c *Config) applyEnvOverrides() {
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("DOORMAN_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvStr("DOORMAN_LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := getEnvStr("DOORMAN_FS_ROOT"); ok {
		c.Storage.FSRoot = v
	}
	if v, ok := getEnvStr("DOORMAN_SESSION_DRIVER"); ok {
		c.Storage.SessionDriver = v
	}
	if v, ok := getEnvStr("DOORMAN_CREDENTIAL_DRIVER"); ok {
		c.Storage.CredentialDriver = v
	}
	if v, ok := getEnvStr("DOORMAN_REDIS_ADDR"); ok {
		c.Storage.Redis.Addr = v
		c.Cache.Redis.Addr = v
	}
	if v, ok := getEnvStr("DOORMAN_PG_DSN"); ok {
		c.Storage.Postgres.DSN = v
	}
	if v, ok := getEnvStr("DOORMAN_IDP_ISSUER"); ok {
		c.IdP.Issuer = v
	}
	if v, ok := getEnvStr("DOORMAN_IDP_CLIENT_ID"); ok {
		c.IdP.ClientID = v
	}
	if v, ok := getEnvStr("DOORMAN_IDP_REDIRECT_URL"); ok {
		c.IdP.RedirectURL = v
	}
	if v, ok := getEnvStr("DOORMAN_BROKER_URL"); ok {
		c.Broker.BaseURL = v
	}
	if v, ok := getEnvStr("DOORMAN_DIRECTORY_URL"); ok {
		c.Directory.BaseURL = v
	}
	if v, ok := getEnvBool("DOORMAN_COMMIT_ON_TIMEOUT"); ok {
		c.Auth.Activation.CommitOnTimeout = &v
	}
}
