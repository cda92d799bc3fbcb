package sessionx

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	defaultLoginPath    = "login/"
	defaultRegisterPath = "register/"
	defaultRefreshPath  = "refresh/"
	defaultHTTPTimeout  = 10 * time.Second
	defaultSessionFile  = "session.json"
)

// Store backends accepted by StoreConfig.Backend.
const (
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendMemory = "memory"
	BackendNone   = "none"
)

// Config describes the identity API and the session behaviour.
type Config struct {
	BaseURL      string        `yaml:"base_url" env:"PRINTEASY_API_URL"`
	LoginPath    string        `yaml:"login_path" env:"PRINTEASY_LOGIN_PATH"`
	RegisterPath string        `yaml:"register_path" env:"PRINTEASY_REGISTER_PATH"`
	RefreshPath  string        `yaml:"refresh_path" env:"PRINTEASY_REFRESH_PATH"`
	Skew         time.Duration `yaml:"skew" env:"PRINTEASY_TOKEN_SKEW" env-default:"5m"`
	HTTPTimeout  time.Duration `yaml:"http_timeout" env:"PRINTEASY_HTTP_TIMEOUT" env-default:"10s"`
	Store        StoreConfig   `yaml:"store"`
}

// StoreConfig selects and configures the session store backend.
type StoreConfig struct {
	Backend       string `yaml:"backend" env:"PRINTEASY_STORE" env-default:"file"`
	Path          string `yaml:"path" env:"PRINTEASY_STORE_PATH"`
	Prefix        string `yaml:"prefix" env:"PRINTEASY_STORE_PREFIX"`
	RedisAddr     string `yaml:"redis_addr" env:"PRINTEASY_REDIS_ADDR" env-default:"localhost:6379"`
	RedisPassword string `yaml:"redis_password" env:"PRINTEASY_REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env:"PRINTEASY_REDIS_DB"`
}

// LoadConfig reads path (YAML) and then the environment. An empty path reads
// the environment only.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	var err error
	if path == "" {
		err = cleanenv.ReadEnv(&cfg)
	} else {
		err = cleanenv.ReadConfig(path, &cfg)
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// normalize sets default values for optional fields.
func (c *Config) normalize() {
	if c.LoginPath == "" {
		c.LoginPath = defaultLoginPath
	}
	if c.RegisterPath == "" {
		c.RegisterPath = defaultRegisterPath
	}
	if c.RefreshPath == "" {
		c.RefreshPath = defaultRefreshPath
	}
	if c.Skew <= 0 {
		c.Skew = DefaultSkew
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = defaultHTTPTimeout
	}
	c.Store.normalize()
}

func (c *StoreConfig) normalize() {
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	if c.Backend == "" {
		c.Backend = BackendFile
	}
	if c.Path == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			dir = os.TempDir()
		}
		c.Path = filepath.Join(dir, "printeasy", defaultSessionFile)
	}
	if c.Prefix == "" {
		c.Prefix = defaultRedisPrefix
	}
}

// validate ensures the configuration is usable.
func (c Config) validate() error {
	if c.BaseURL == "" {
		return errors.New("base url is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("base url %q must be absolute", c.BaseURL)
	}
	switch c.Store.Backend {
	case BackendFile, BackendRedis, BackendMemory, BackendNone:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	return nil
}

// endpoint resolves an API path against the base URL.
func (c Config) endpoint(path string) (string, error) {
	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", err
	}
	if base.Path == "" || base.Path[len(base.Path)-1] != '/' {
		base.Path += "/"
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}
