package reaper

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ocx/aec/internal/aecerr"
	"github.com/ocx/aec/internal/store"
)

const registryKey = "reaper/registry"

// registrySnapshot is the JSON-serializable form of the reaper's in-memory
// state, persisted every PersistEveryTicks cycles.
type registrySnapshot struct {
	Cycle    int64
	Entities map[string]Entity
}

func savePersisted(ctx context.Context, kv store.KV, cycle int64, registry map[string]*Entity) error {
	snap := registrySnapshot{Cycle: cycle, Entities: make(map[string]Entity, len(registry))}
	for id, e := range registry {
		snap.Entities[id] = *e
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("reaper: marshal registry snapshot: %w", err)
	}
	if err := store.WithRetry(func() error {
		return kv.Put(ctx, registryKey, data)
	}); err != nil {
		return fmt.Errorf("%w: %v", aecerr.ErrPersistenceIO, err)
	}
	return nil
}

func loadPersisted(ctx context.Context, kv store.KV) (int64, map[string]*Entity, error) {
	data, ok, err := kv.Get(ctx, registryKey)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", aecerr.ErrPersistenceIO, err)
	}
	if !ok {
		return 0, make(map[string]*Entity), nil
	}
	var snap registrySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return 0, nil, fmt.Errorf("reaper: corrupt registry snapshot: %w", err)
	}
	registry := make(map[string]*Entity, len(snap.Entities))
	for id, e := range snap.Entities {
		entity := e
		registry[id] = &entity
	}
	return snap.Cycle, registry, nil
}
