// Package secrets resolves named secrets for the secrets capability.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store looks secrets up by id. A missing secret is reported with ok=false,
// not an error; errors are reserved for a broken backend.
type Store interface {
	Lookup(ctx context.Context, id string) (value string, ok bool, err error)
}

// MapStore is an in-memory store.
type MapStore map[string]string

func (m MapStore) Lookup(_ context.Context, id string) (string, bool, error) {
	v, ok := m[id]
	return v, ok, nil
}

// LoadFile reads a flat YAML map of id to value, e.g.
//
//	GEMINI_API_KEY: "abc123"
func LoadFile(path string) (MapStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read secrets %s: %w", path, err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse secrets %s: %w", path, err)
	}
	out := make(MapStore, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			out[k] = val
		case nil:
			out[k] = ""
		default:
			return nil, fmt.Errorf("parse secrets %s: %q must be a string, got %T", path, k, v)
		}
	}
	return out, nil
}

// LoadFiles reads several secret files; later files override earlier ones.
func LoadFiles(paths ...string) (MapStore, error) {
	merged := MapStore{}
	for _, p := range paths {
		m, err := LoadFile(p)
		if err != nil {
			return nil, err
		}
		if err := mergo.Merge(&merged, m, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merge secrets %s: %w", p, err)
		}
	}
	return merged, nil
}

// DefaultEnvPrefix namespaces secrets in the process environment.
const DefaultEnvPrefix = "VERDICT_SECRET_"

// EnvStore reads secrets from environment variables named Prefix+ID, with the
// id upper-cased and non-alphanumerics mapped to underscores.
type EnvStore struct {
	Prefix string
}

func (e EnvStore) Lookup(_ context.Context, id string) (string, bool, error) {
	v, ok := os.LookupEnv(e.Prefix + envName(id))
	return v, ok, nil
}

func envName(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, id)
}

// LoadEnvFile loads a .env file into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// Chain consults stores in order and returns the first hit.
type Chain []Store

func (c Chain) Lookup(ctx context.Context, id string) (string, bool, error) {
	for _, s := range c {
		v, ok, err := s.Lookup(ctx, id)
		if err != nil {
			return "", false, err
		}
		if ok {
			return v, true, nil
		}
	}
	return "", false, nil
}
