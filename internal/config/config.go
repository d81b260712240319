package config

import (
	"fmt"
	"path/filepath"
	"time"
)

// Credential store backends selectable via storage.credentials.
const (
	CredentialsSQLite   = "sqlite"
	CredentialsKeychain = "keychain"
)

type Config struct {
	API       APIConfig
	Storage   StorageConfig
	Log       LogConfig
	Notify    NotifyConfig
	Search    SearchConfig
	DevServer DevServerConfig
}

type APIConfig struct {
	BaseURL string
	Timeout string
}

type StorageConfig struct {
	DataDir     string
	Credentials string
}

type LogConfig struct {
	Level string
	File  string
}

type NotifyConfig struct {
	DefaultTTL string
}

type SearchConfig struct {
	QuietPeriod     string
	PageSize        int
	DefaultCategory string
	CacheTTL        string
}

type DevServerConfig struct {
	Addr      string
	Latency   string
	JWTSecret string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		API: APIConfig{
			BaseURL: "http://localhost:3000",
			Timeout: "15s",
		},
		Storage: StorageConfig{
			DataDir:     dataDir,
			Credentials: CredentialsSQLite,
		},
		Log: LogConfig{
			Level: "info",
			File:  filepath.Join(dataDir, "studex.log"),
		},
		Notify: NotifyConfig{
			DefaultTTL: "5s",
		},
		Search: SearchConfig{
			QuietPeriod:     "300ms",
			PageSize:        12,
			DefaultCategory: "All",
			CacheTTL:        "30s",
		},
		DevServer: DevServerConfig{
			Addr:    "127.0.0.1:3000",
			Latency: "0s",
		},
	}
}

// Load reads configuration from the platform store, environment variables,
// and the platform secret store, then checks every value.
//
// On macOS settings live in UserDefaults (domain com.studex.app). Elsewhere
// they live in $XDG_CONFIG_HOME/studex/config.json, grouped by section:
//
//	{"api": {"base_url": "https://studex.example.edu"}, "search": {"page_size": 24}}
//
// Environment variables (STUDEX_*) override stored values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts Keychain access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Dev server signing secret may live in the platform keychain.
	if cfg.DevServer.JWTSecret == "" {
		if key, err := kc.Get(keychainService, "devserver_jwt_secret"); err == nil && key != "" {
			cfg.DevServer.JWTSecret = key
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// validate runs every key's check, so environment overrides are held to
// the same rules as stored values.
func (c Config) validate() error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if err := s.checkValue(fmt.Sprint(s.extract(c))); err != nil {
			return err
		}
	}
	return nil
}

// Duration parses a duration-valued key, falling back to def when raw is
// empty or unparsable. Load has already rejected malformed values.
func Duration(raw string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return trimSecret(out), nil
}
