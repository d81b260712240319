//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const defaultsDomain = "com.studex.app"

func defaultDataDir() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, "Library", "Application Support", "studex")
	}
	return "studex-data"
}

func newPlatformBackend() ConfigBackend {
	return newCheckedBackend(&userDefaults{domain: defaultsDomain})
}

// userDefaults stores settings in the UserDefaults domain through the
// defaults tool, one entry per dotted key.
type userDefaults struct {
	domain string
}

func (d *userDefaults) location() string { return "defaults domain " + d.domain }

// run executes defaults and reports whether the key existed. defaults exits
// 1 for a missing key or domain.
func (d *userDefaults) run(args ...string) (string, bool, error) {
	out, err := exec.Command("defaults", args...).CombinedOutput()
	s := strings.TrimSpace(string(out))
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return "", false, nil
		}
		return "", false, fmt.Errorf("defaults %s: %w: %s", args[0], err, s)
	}
	return s, true, nil
}

func (d *userDefaults) read(key string) (string, bool, error) {
	return d.run("read", d.domain, key)
}

func (d *userDefaults) write(key string, typ keyType, val string) error {
	flag := "-string"
	if typ == kInt {
		flag = "-int"
	}
	if out, err := exec.Command("defaults", "write", d.domain, key, flag, val).CombinedOutput(); err != nil {
		return fmt.Errorf("defaults write: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (d *userDefaults) remove(key string) error {
	_, _, err := d.run("delete", d.domain, key)
	return err
}
