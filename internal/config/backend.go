package config

import (
	"fmt"
	"strconv"
)

// ConfigBackend persists studex settings by dotted key, e.g. search.page_size.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}

// rawStore is the platform storage underneath a checkedBackend. It holds
// text and knows nothing about which keys exist.
type rawStore interface {
	read(key string) (string, bool, error)
	write(key string, typ keyType, val string) error
	remove(key string) error
	location() string
}

// checkedBackend restricts a rawStore to the known, non-secret keys and
// runs each key's check on every read and write. A hand-edited store
// therefore fails Load with the offending key named.
type checkedBackend struct {
	store rawStore
}

func newCheckedBackend(store rawStore) *checkedBackend {
	return &checkedBackend{store: store}
}

func (b *checkedBackend) spec(key string, typ keyType) (keySpec, error) {
	s, ok := lookupSpec(key)
	if !ok {
		return keySpec{}, fmt.Errorf("unknown config key: %q", key)
	}
	if s.secret {
		return keySpec{}, fmt.Errorf("secret %q is not kept in %s", key, b.store.location())
	}
	if s.typ != typ {
		return keySpec{}, fmt.Errorf("config key %q has a different type", key)
	}
	return s, nil
}

func (b *checkedBackend) get(key string, typ keyType) (string, bool, error) {
	s, err := b.spec(key, typ)
	if err != nil {
		return "", false, err
	}
	raw, ok, err := b.store.read(key)
	if err != nil || !ok {
		return "", ok, err
	}
	if err := s.checkValue(raw); err != nil {
		return "", true, fmt.Errorf("%s: %w", b.store.location(), err)
	}
	return raw, true, nil
}

func (b *checkedBackend) GetString(key string) (string, bool, error) {
	return b.get(key, kString)
}

func (b *checkedBackend) GetInt(key string) (int, bool, error) {
	raw, ok, err := b.get(key, kInt)
	if err != nil || !ok {
		return 0, ok, err
	}
	i, err := strconv.Atoi(raw)
	if err != nil {
		return 0, true, fmt.Errorf("%s: invalid %s: %w", b.store.location(), key, err)
	}
	return i, true, nil
}

func (b *checkedBackend) set(key string, typ keyType, raw string) error {
	s, err := b.spec(key, typ)
	if err != nil {
		return err
	}
	if err := s.checkValue(raw); err != nil {
		return err
	}
	if err := b.store.write(key, typ, raw); err != nil {
		return fmt.Errorf("writing %s to %s: %w", key, b.store.location(), err)
	}
	return nil
}

func (b *checkedBackend) SetString(key, val string) error {
	return b.set(key, kString, val)
}

func (b *checkedBackend) SetInt(key string, val int) error {
	return b.set(key, kInt, strconv.Itoa(val))
}

// Delete drops a stored value so the default applies again. Deleting an
// unset key is not an error.
func (b *checkedBackend) Delete(key string) error {
	if _, ok := lookupSpec(key); !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}
	return b.store.remove(key)
}
