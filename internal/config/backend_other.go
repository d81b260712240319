//go:build !darwin

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "studex-data"
		}
	}
	return filepath.Join(dir, "studex")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "studex", "config.json")
}

func newPlatformBackend() ConfigBackend {
	return newCheckedBackend(&sectionFile{path: configFilePath()})
}

// sectionFile keeps settings in a JSON file with one object per section:
// api.base_url is stored as {"api": {"base_url": ...}}. Integers are JSON
// numbers and everything else is a string. The file is re-read on every
// access so concurrent `studex config set` runs see each other's writes.
type sectionFile struct {
	path string
}

type sections map[string]map[string]any

func splitKey(key string) (section, name string, err error) {
	section, name, ok := strings.Cut(key, ".")
	if !ok || section == "" || name == "" {
		return "", "", fmt.Errorf("config key %q has no section", key)
	}
	return section, name, nil
}

func (f *sectionFile) location() string { return f.path }

func (f *sectionFile) load() (sections, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return sections{}, nil
	}
	if err != nil {
		return nil, err
	}
	s := sections{}
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", f.path, err)
	}
	return s, nil
}

func (f *sectionFile) save(s sections) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, append(data, '\n'), 0o600)
}

func (f *sectionFile) read(key string) (string, bool, error) {
	section, name, err := splitKey(key)
	if err != nil {
		return "", false, err
	}
	s, err := f.load()
	if err != nil {
		return "", false, err
	}
	v, ok := s[section][name]
	if !ok {
		return "", false, nil
	}
	switch val := v.(type) {
	case string:
		return val, true, nil
	case float64:
		if val != math.Trunc(val) || val < math.MinInt || val > math.MaxInt {
			return "", true, fmt.Errorf("%s: %v is not an integer", key, val)
		}
		return strconv.Itoa(int(val)), true, nil
	default:
		return "", true, fmt.Errorf("%s: unsupported value %v", key, v)
	}
}

func (f *sectionFile) write(key string, typ keyType, val string) error {
	section, name, err := splitKey(key)
	if err != nil {
		return err
	}
	s, err := f.load()
	if err != nil {
		return err
	}
	var v any = val
	if typ == kInt {
		i, err := strconv.Atoi(val)
		if err != nil {
			return err
		}
		v = i
	}
	if s[section] == nil {
		s[section] = map[string]any{}
	}
	s[section][name] = v
	return f.save(s)
}

func (f *sectionFile) remove(key string) error {
	section, name, err := splitKey(key)
	if err != nil {
		return err
	}
	s, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := s[section][name]; !ok {
		return nil
	}
	delete(s[section], name)
	if len(s[section]) == 0 {
		delete(s, section)
	}
	return f.save(s)
}
