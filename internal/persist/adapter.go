// Package persist serializes whitelisted store state into durable slots and
// restores it on startup. Every failure is logged and absorbed: a broken slot
// costs the saved state, never the process.
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Slot keys used by the storefront stores. Each store owns exactly one.
const (
	KeyCart         = "storefront-cart"
	KeyFavorites    = "storefront-favorites"
	KeyComparison   = "storefront-comparison"
	KeyResultsCache = "storefront-results-cache"
)

// CurrentVersion is stamped on every saved envelope. Envelopes carrying another
// version are discarded on load.
const CurrentVersion = 1

var ErrVersionMismatch = errors.New("persist: stored version does not match")

type envelope struct {
	State   json.RawMessage `json:"state"`
	Version int             `json:"version"`
}

// Adapter writes store state to a SlotStorage.
type Adapter struct {
	slots   SlotStorage
	logger  *zap.Logger
	version int
}

// NewAdapter creates an Adapter over slots. A nil logger disables logging.
func NewAdapter(slots SlotStorage, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{slots: slots, logger: logger, version: CurrentVersion}
}

// Save writes the whitelisted top-level fields of state to the slot named key.
// With no fields the whole state is written.
func (a *Adapter) Save(ctx context.Context, key string, state any, fields ...string) {
	raw, ok := a.encode(key, state, fields...)
	if !ok {
		return
	}
	a.write(ctx, key, raw)
}

// encode builds the versioned envelope for state.
func (a *Adapter) encode(key string, state any, fields ...string) (string, bool) {
	payload, err := Partialize(state, fields...)
	if err != nil {
		a.logger.Warn("persist: encode state failed", zap.String("slot", key), zap.Error(err))
		return "", false
	}
	raw, err := json.Marshal(envelope{State: payload, Version: a.version})
	if err != nil {
		a.logger.Warn("persist: encode envelope failed", zap.String("slot", key), zap.Error(err))
		return "", false
	}
	return string(raw), true
}

func (a *Adapter) write(ctx context.Context, key, raw string) {
	if err := a.slots.WriteSlot(ctx, key, raw); err != nil {
		a.logger.Warn("persist: write slot failed", zap.String("slot", key), zap.Error(err))
	}
}

// Load decodes the slot named key into dest. It reports false when the slot is
// missing, unreadable, corrupt or written by another version; callers must then
// discard dest.
func (a *Adapter) Load(ctx context.Context, key string, dest any) bool {
	raw, ok, err := a.slots.ReadSlot(ctx, key)
	if err != nil {
		a.logger.Warn("persist: read slot failed, starting empty", zap.String("slot", key), zap.Error(err))
		return false
	}
	if !ok {
		return false
	}
	if err := decode(raw, a.version, dest); err != nil {
		a.logger.Warn("persist: discarding unreadable slot", zap.String("slot", key), zap.Error(err))
		return false
	}
	return true
}

// Drop removes the slot named key.
func (a *Adapter) Drop(ctx context.Context, key string) {
	if err := a.slots.DeleteSlot(ctx, key); err != nil {
		a.logger.Warn("persist: delete slot failed", zap.String("slot", key), zap.Error(err))
	}
}

func decode(raw string, version int, dest any) error {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return fmt.Errorf("persist: decode envelope: %w", err)
	}
	if env.Version != version {
		return fmt.Errorf("%w: got %d, want %d", ErrVersionMismatch, env.Version, version)
	}
	if len(env.State) == 0 || string(env.State) == "null" {
		return errors.New("persist: envelope has no state")
	}
	if err := json.Unmarshal(env.State, dest); err != nil {
		return fmt.Errorf("persist: decode state: %w", err)
	}
	return nil
}

// Partialize marshals state and keeps only the named top-level JSON fields.
func Partialize(state any, fields ...string) (json.RawMessage, error) {
	full, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return full, nil
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(full, &all); err != nil {
		return nil, fmt.Errorf("persist: state is not a JSON object: %w", err)
	}
	kept := make(map[string]json.RawMessage, len(fields))
	for _, f := range fields {
		if v, ok := all[f]; ok {
			kept[f] = v
		}
	}
	return json.Marshal(kept)
}
