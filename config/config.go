package config

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type HTTP struct {
	Addr string `yaml:"addr"`
}

type Logging struct {
	Env       string `yaml:"env"`       // dev|prod
	Service   string `yaml:"service"`   // lobby-service
	Version   string `yaml:"version"`   // v0.1.0
	Backend   string `yaml:"backend"`   // std|zap
	AddSource bool   `yaml:"addSource"` // false|true
	Debug     bool   `yaml:"debug"`     // false|true
}

type Postgres struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"maxConns"`
	MinConns int32  `yaml:"minConns"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type Auth struct {
	PublicKeyPath string `yaml:"publicKeyPath"`
	Issuer        string `yaml:"issuer"`
	Audience      string `yaml:"audience"`
	InternalToken string `yaml:"internalToken"`
}

// Lobby — тюнинг жизненного цикла комнат; duration-поля в формате
// time.ParseDuration ("15m", "90s"), невалидные значения → дефолты.
type Lobby struct {
	SweepPeriod      string `yaml:"sweepPeriod"`
	WaitingRoomAge   string `yaml:"waitingRoomAge"`
	FinishedGrace    string `yaml:"finishedGrace"`
	PresenceShortTTL string `yaml:"presenceShortTTL"`
	PresenceLongTTL  string `yaml:"presenceLongTTL"`
	SweepTimeout     string `yaml:"sweepTimeout"`
	WSPingInterval   string `yaml:"wsPingInterval"`
}

type Config struct {
	HTTP     HTTP     `yaml:"http"`
	Logging  Logging  `yaml:"logging"`
	Postgres Postgres `yaml:"postgres"`
	Redis    Redis    `yaml:"redis"`
	Auth     Auth     `yaml:"auth"`
	Lobby    Lobby    `yaml:"lobby"`
}

func LoadConfig() (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "./config/config.yaml"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("http.addr is required")
	}
	if c.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if c.Redis.Addr == "" {
		return errors.New("redis.addr is required")
	}
	if c.Auth.PublicKeyPath == "" {
		return errors.New("auth.publicKeyPath is required")
	}
	if c.Auth.InternalToken == "" {
		return errors.New("auth.internalToken is required")
	}
	// установка дефолтов, если значения не указаны
	if c.Logging.Service == "" {
		c.Logging.Service = "lobby-service"
	}
	if c.Logging.Env == "" {
		c.Logging.Env = "dev"
	}
	if c.Logging.Version == "" {
		c.Logging.Version = "v0.1.0"
	}
	if c.Logging.Backend == "" {
		c.Logging.Backend = "std"
	}
	if c.Postgres.MaxConns <= 0 {
		c.Postgres.MaxConns = 10
	}
	if c.Postgres.MinConns < 0 {
		c.Postgres.MinConns = 0
	}
	return nil
}

func (l Lobby) SweepPeriodOr(def time.Duration) time.Duration {
	return parseDurationOr(def, l.SweepPeriod)
}

func (l Lobby) WaitingRoomAgeOr(def time.Duration) time.Duration {
	return parseDurationOr(def, l.WaitingRoomAge)
}

func (l Lobby) FinishedGraceOr(def time.Duration) time.Duration {
	return parseDurationOr(def, l.FinishedGrace)
}

func (l Lobby) PresenceShortTTLOr(def time.Duration) time.Duration {
	return parseDurationOr(def, l.PresenceShortTTL)
}

func (l Lobby) PresenceLongTTLOr(def time.Duration) time.Duration {
	return parseDurationOr(def, l.PresenceLongTTL)
}

func (l Lobby) SweepTimeoutOr(def time.Duration) time.Duration {
	return parseDurationOr(def, l.SweepTimeout)
}

func (l Lobby) WSPingIntervalOr(def time.Duration) time.Duration {
	return parseDurationOr(def, l.WSPingInterval)
}

// helper для парсинга timeout-ов
func parseDurationOr(def time.Duration, s string) time.Duration {
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return def
}
