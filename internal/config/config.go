package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPort    = 3000
	DefaultDir     = "articles"
	DefaultRealm   = "Admin Access"
	BackendFile    = "file"
	BackendSQLite  = "sqlite"
	defaultFailure = 10
)

type Config struct {
	// Addr is the full listen address. When empty, Port is used.
	Addr        string `yaml:"addr"`
	Port        int    `yaml:"port"`
	ArticlesDir string `yaml:"articles_dir"`
	Backend     string `yaml:"backend"`
	SQLitePath  string `yaml:"sqlite_path"`
	Admin       Admin  `yaml:"admin"`
	Log         Log    `yaml:"log"`

	// Path of the YAML file the config was read from, if any.
	Path string `yaml:"-"`
}

type Admin struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// PasswordHash is a bcrypt hash; it takes precedence over Password.
	PasswordHash      string `yaml:"password_hash"`
	Realm             string `yaml:"realm"`
	FailuresPerMinute int    `yaml:"failures_per_minute"`
	TrustForwardedFor bool   `yaml:"trust_forwarded_for"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ListenAddr returns the address the HTTP server binds to.
func (c Config) ListenAddr() string {
	if c.Addr != "" {
		return c.Addr
	}
	return ":" + strconv.Itoa(c.Port)
}

// Load reads the YAML file named by ARTICLES_CONFIG, if any, then applies
// environment overrides.
func Load() (Config, error) {
	return LoadFrom(os.Getenv("ARTICLES_CONFIG"))
}

// LoadFrom builds a Config from defaults, the optional YAML file at path and
// the environment, in that order of increasing precedence.
func LoadFrom(path string) (Config, error) {
	cfg := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse yaml %q: %w", path, err)
		}
		cfg.Path = path
	}
	applyEnv(&cfg)
	if err := validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		Port:        DefaultPort,
		ArticlesDir: DefaultDir,
		Backend:     BackendFile,
		SQLitePath:  "articles.db",
		Admin: Admin{
			Username:          "admin",
			Realm:             DefaultRealm,
			FailuresPerMinute: defaultFailure,
		},
		Log: Log{Level: "info", Format: "json"},
	}
}

func applyEnv(cfg *Config) {
	cfg.Addr = envString("ARTICLES_ADDR", cfg.Addr)
	cfg.Port = envInt("PORT", cfg.Port)
	cfg.ArticlesDir = envString("ARTICLES_DIR", cfg.ArticlesDir)
	cfg.Backend = strings.ToLower(envString("ARTICLES_BACKEND", cfg.Backend))
	cfg.SQLitePath = envString("ARTICLES_SQLITE_PATH", cfg.SQLitePath)
	cfg.Admin.Username = envString("ARTICLES_ADMIN_USER", cfg.Admin.Username)
	cfg.Admin.Password = envString("ARTICLES_ADMIN_PASSWORD", cfg.Admin.Password)
	cfg.Admin.PasswordHash = envString("ARTICLES_ADMIN_PASSWORD_HASH", cfg.Admin.PasswordHash)
	cfg.Admin.Realm = envString("ARTICLES_REALM", cfg.Admin.Realm)
	cfg.Admin.FailuresPerMinute = envInt("ARTICLES_AUTH_FAILURES_PER_MIN", cfg.Admin.FailuresPerMinute)
	cfg.Admin.TrustForwardedFor = envBool("ARTICLES_TRUST_FORWARDED_FOR", cfg.Admin.TrustForwardedFor)
	cfg.Log.Level = envString("ARTICLES_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = envString("ARTICLES_LOG_FORMAT", cfg.Log.Format)
}

func validate(cfg Config) error {
	if cfg.Addr == "" && (cfg.Port <= 0 || cfg.Port > 65535) {
		return fmt.Errorf("port %d is out of range [1, 65535]", cfg.Port)
	}
	switch cfg.Backend {
	case BackendFile:
		if cfg.ArticlesDir == "" {
			return fmt.Errorf("articles_dir must not be empty")
		}
	case BackendSQLite:
		if cfg.SQLitePath == "" {
			return fmt.Errorf("sqlite_path must not be empty")
		}
	default:
		return fmt.Errorf("backend %q unknown: want %s|%s", cfg.Backend, BackendFile, BackendSQLite)
	}
	if cfg.Admin.Username == "" {
		return fmt.Errorf("admin.username must not be empty")
	}
	if cfg.Admin.Password == "" && cfg.Admin.PasswordHash == "" {
		return fmt.Errorf("admin credentials missing: set ARTICLES_ADMIN_PASSWORD or ARTICLES_ADMIN_PASSWORD_HASH")
	}
	if cfg.Admin.FailuresPerMinute < 0 {
		return fmt.Errorf("admin.failures_per_minute must not be negative")
	}
	switch cfg.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format %q unknown: want json|console", cfg.Log.Format)
	}
	return nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
