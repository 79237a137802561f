package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"mercator-hq/rules/pkg/config"
)

var (
	// ErrMissingKey means the request carried no key.
	ErrMissingKey = errors.New("missing API key")

	// ErrInvalidKey means the key matched no configured key.
	ErrInvalidKey = errors.New("invalid API key")

	// ErrKeyDisabled means the key matched a disabled key.
	ErrKeyDisabled = errors.New("API key disabled")
)

// Key is one accepted API key.
type Key struct {
	// Name identifies the holder in logs. It is never the secret.
	Name    string
	Secret  string
	Enabled bool
}

// LoadKeys resolves configured keys from their literal, environment or
// file source. An empty resolved secret is an error.
func LoadKeys(cfgs []config.APIKeyConfig) ([]Key, error) {
	keys := make([]Key, 0, len(cfgs))
	for i, c := range cfgs {
		secret, err := resolve(c)
		if err != nil {
			return nil, fmt.Errorf("auth key %d (%s): %w", i, c.Name, err)
		}
		if secret == "" {
			return nil, fmt.Errorf("auth key %d (%s): key is empty", i, c.Name)
		}
		keys = append(keys, Key{Name: c.Name, Secret: secret, Enabled: !c.Disabled})
	}
	return keys, nil
}

func resolve(c config.APIKeyConfig) (string, error) {
	switch {
	case c.Key != "":
		return c.Key, nil
	case c.KeyEnv != "":
		v, ok := os.LookupEnv(c.KeyEnv)
		if !ok {
			return "", fmt.Errorf("environment variable %s is not set", c.KeyEnv)
		}
		return strings.TrimSpace(v), nil
	case c.KeyFile != "":
		data, err := os.ReadFile(c.KeyFile)
		if err != nil {
			return "", fmt.Errorf("read key file: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	default:
		return "", errors.New("no key source configured")
	}
}

// Validator checks presented secrets against a set of keys. It is safe
// for concurrent use.
type Validator struct {
	mu   sync.RWMutex
	keys []Key
}

// NewValidator creates a validator accepting keys.
func NewValidator(keys []Key) *Validator {
	return &Validator{keys: append([]Key(nil), keys...)}
}

// Validate returns the key matching secret. Every configured key is
// compared so the time taken does not depend on which key matched.
func (v *Validator) Validate(secret string) (Key, error) {
	if secret == "" {
		return Key{}, ErrMissingKey
	}
	v.mu.RLock()
	defer v.mu.RUnlock()

	var (
		found Key
		ok    bool
	)
	for _, k := range v.keys {
		if subtle.ConstantTimeCompare([]byte(k.Secret), []byte(secret)) == 1 && !ok {
			found, ok = k, true
		}
	}
	if !ok {
		return Key{}, ErrInvalidKey
	}
	if !found.Enabled {
		return Key{}, ErrKeyDisabled
	}
	return found, nil
}

// Replace swaps the accepted keys.
func (v *Validator) Replace(keys []Key) {
	v.mu.Lock()
	v.keys = append([]Key(nil), keys...)
	v.mu.Unlock()
}

// Len returns the number of configured keys.
func (v *Validator) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.keys)
}
