package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	// check vets the textual form of a value; nil accepts anything.
	check   func(raw string) error
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

func checkDuration(raw string) error {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}
	if d < 0 {
		return errors.New("must not be negative")
	}
	return nil
}

func checkPositive(raw string) error {
	i, err := strconv.Atoi(raw)
	if err != nil {
		return err
	}
	if i <= 0 {
		return errors.New("must be positive")
	}
	return nil
}

func checkNonEmpty(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return errors.New("must not be empty")
	}
	return nil
}

func checkHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%q is not an http(s) URL", raw)
	}
	return nil
}

func checkHostPort(raw string) error {
	_, _, err := net.SplitHostPort(raw)
	return err
}

func oneOf(allowed ...string) func(string) error {
	return func(raw string) error {
		for _, a := range allowed {
			if raw == a {
				return nil
			}
		}
		return fmt.Errorf("%q is not one of %s", raw, strings.Join(allowed, ", "))
	}
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// checkValue runs the key's check and names the key in the error.
func (s keySpec) checkValue(raw string) error {
	if s.check == nil {
		return nil
	}
	if err := s.check(raw); err != nil {
		return fmt.Errorf("invalid %s: %w", s.key, err)
	}
	return nil
}

var specs = []keySpec{
	{
		key: "api.base_url", typ: kString, env: "STUDEX_API_BASE_URL",
		check:   checkHTTPURL,
		apply:   func(cfg *Config, v any) { cfg.API.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.API.BaseURL },
	},
	{
		key: "api.timeout", typ: kString, env: "STUDEX_API_TIMEOUT",
		check:   checkDuration,
		apply:   func(cfg *Config, v any) { cfg.API.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.API.Timeout },
	},
	{
		key: "storage.data_dir", typ: kString, env: "STUDEX_STORAGE_DATA_DIR",
		check:   checkNonEmpty,
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.credentials", typ: kString, env: "STUDEX_STORAGE_CREDENTIALS",
		check:   oneOf(CredentialsSQLite, CredentialsKeychain),
		apply:   func(cfg *Config, v any) { cfg.Storage.Credentials = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.Credentials },
	},
	{
		key: "log.level", typ: kString, env: "STUDEX_LOG_LEVEL",
		check:   oneOf("debug", "info", "warn", "warning", "error"),
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.file", typ: kString, env: "STUDEX_LOG_FILE",
		apply:   func(cfg *Config, v any) { cfg.Log.File = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.File },
	},
	{
		key: "notify.default_ttl", typ: kString, env: "STUDEX_NOTIFY_DEFAULT_TTL",
		check:   checkDuration,
		apply:   func(cfg *Config, v any) { cfg.Notify.DefaultTTL = v.(string) },
		extract: func(cfg Config) any { return cfg.Notify.DefaultTTL },
	},
	{
		key: "search.quiet_period", typ: kString, env: "STUDEX_SEARCH_QUIET_PERIOD",
		check:   checkDuration,
		apply:   func(cfg *Config, v any) { cfg.Search.QuietPeriod = v.(string) },
		extract: func(cfg Config) any { return cfg.Search.QuietPeriod },
	},
	{
		key: "search.page_size", typ: kInt, env: "STUDEX_SEARCH_PAGE_SIZE",
		check:   checkPositive,
		apply:   func(cfg *Config, v any) { cfg.Search.PageSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Search.PageSize },
	},
	{
		key: "search.default_category", typ: kString, env: "STUDEX_SEARCH_DEFAULT_CATEGORY",
		check:   checkNonEmpty,
		apply:   func(cfg *Config, v any) { cfg.Search.DefaultCategory = v.(string) },
		extract: func(cfg Config) any { return cfg.Search.DefaultCategory },
	},
	{
		key: "search.cache_ttl", typ: kString, env: "STUDEX_SEARCH_CACHE_TTL",
		check:   checkDuration,
		apply:   func(cfg *Config, v any) { cfg.Search.CacheTTL = v.(string) },
		extract: func(cfg Config) any { return cfg.Search.CacheTTL },
	},
	{
		key: "devserver.addr", typ: kString, env: "STUDEX_DEVSERVER_ADDR",
		check:   checkHostPort,
		apply:   func(cfg *Config, v any) { cfg.DevServer.Addr = v.(string) },
		extract: func(cfg Config) any { return cfg.DevServer.Addr },
	},
	{
		key: "devserver.latency", typ: kString, env: "STUDEX_DEVSERVER_LATENCY",
		check:   checkDuration,
		apply:   func(cfg *Config, v any) { cfg.DevServer.Latency = v.(string) },
		extract: func(cfg Config) any { return cfg.DevServer.Latency },
	},
	{
		key: "devserver.jwt_secret", typ: kString, env: "STUDEX_DEVSERVER_JWT_SECRET",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.DevServer.JWTSecret = v.(string) },
		extract: func(cfg Config) any { return cfg.DevServer.JWTSecret },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
