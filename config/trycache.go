package config

import (
	"errors"
	"log/slog"
)

// ErrDoNotStore marks a fetch that succeeded but produced a result that
// must not replace the cached value (e.g. an overrides document that did
// not parse). The refresh is not an error; the cached snapshot stands.
var ErrDoNotStore = errors.New("do not store fetched value")

// TryCache runs a remote fetch and stores its result. When get fails with
// an error the caught predicate accepts, the failure is logged and the
// previously stored value is left in place, so the downstream pipeline
// always observes some consistent snapshot, at worst stale. Any other
// error is returned.
func TryCache[T any](logger *slog.Logger, name string, get func() (T, error), store func(T) error, caught func(error) bool) error {
	value, err := get()
	if err != nil {
		if errors.Is(err, ErrDoNotStore) {
			logger.Info("Refresh produced no storable value, keeping cached", "what", name, "reason", err)
			return nil
		}
		if caught != nil && caught(err) {
			logger.Warn("Refresh failed, keeping cached value", "what", name, "error", err)
			return nil
		}
		return err
	}
	if err := store(value); err != nil {
		return err
	}
	logger.Info("Refreshed", "what", name)
	return nil
}
