package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"osb-tracker/internal/config"
)

// KV is the key-value persistence the tracker keeps its queue, consent and
// identifiers in. A slot holds either a string or a list of strings.
// Implementations must be safe for concurrent use.
type KV interface {
	// GetString returns ErrNotFound when the slot is missing or holds a list.
	GetString(ctx context.Context, key string) (string, error)
	// GetList returns ErrNotFound when the slot is missing or holds a string.
	GetList(ctx context.Context, key string) ([]string, error)
	SetString(ctx context.Context, key, value string) error
	SetList(ctx context.Context, key string, values []string) error
	// Remove returns nil if the slot doesn't exist.
	Remove(ctx context.Context, key string) error
	Close() error
}

var (
	ErrNotFound = errors.New("storage: key not found")
	ErrClosed   = errors.New("storage: store closed")
)

const (
	kindString = "string"
	kindList   = "list"
)

// Open builds the KV selected by cfg.Storage.Driver.
func Open(ctx context.Context, cfg config.Config) (KV, error) {
	switch cfg.Storage.Driver {
	case "memory":
		return NewMemory(), nil
	case "sqlite":
		return NewSQLite(cfg.Storage.Path)
	case "postgres":
		return NewPostgres(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

func encodeList(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	b, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("encode list: %w", err)
	}
	return string(b), nil
}

func decodeList(raw string) ([]string, error) {
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode list: %w", err)
	}
	return out, nil
}
