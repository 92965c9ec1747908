package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/kaptinlin/jsonrepair"
)

// Persisted is a typed JSON document kept in a Backend.
//
// Reads never fail on bad data: a missing document yields the default, a
// corrupt one is first run through jsonrepair and otherwise replaced by the
// default.
type Persisted[T any] struct {
	backend  Backend
	key      string
	defaults func() T
}

// NewPersisted binds key in backend to type T. defaults must return a fresh
// value on every call.
func NewPersisted[T any](backend Backend, key string, defaults func() T) *Persisted[T] {
	return &Persisted[T]{backend: backend, key: key, defaults: defaults}
}

// Key returns the document key.
func (p *Persisted[T]) Key() string {
	return p.key
}

// Update runs fn against the current value inside an exclusive transaction
// and persists the result. If fn returns an error nothing is written.
func (p *Persisted[T]) Update(ctx context.Context, fn func(*T) error) (T, error) {
	var result T
	err := p.backend.Transact(ctx, p.key, func(current []byte) ([]byte, error) {
		value := p.decode(current)
		if err := fn(&value); err != nil {
			return nil, err
		}
		data, err := json.MarshalIndent(value, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encoding %s: %w", p.key, err)
		}
		result = value
		return append(data, '\n'), nil
	})
	if err != nil {
		return result, fmt.Errorf("updating %s: %w", p.key, err)
	}
	return result, nil
}

// Snapshot returns the current value without locking. Read errors degrade
// to the default value.
func (p *Persisted[T]) Snapshot(ctx context.Context) T {
	data, err := p.backend.Load(ctx, p.key)
	if err != nil {
		slog.Warn("falling back to default document", "key", p.key, "error", err)
		return p.defaults()
	}
	return p.decode(data)
}

func (p *Persisted[T]) decode(data []byte) T {
	if len(data) == 0 {
		return p.defaults()
	}
	value := p.defaults()
	if err := json.Unmarshal(data, &value); err == nil {
		return value
	}

	repaired, err := jsonrepair.JSONRepair(string(data))
	if err == nil {
		value = p.defaults()
		if err := json.Unmarshal([]byte(repaired), &value); err == nil {
			slog.Warn("repaired corrupt document", "key", p.key)
			return value
		}
	}
	slog.Warn("document is corrupt, using defaults", "key", p.key)
	return p.defaults()
}
