// Package settings owns the runtime trading configuration: one versioned
// record loaded at startup, refreshed from durable storage on demand, and
// mutated only through an explicit update that persists and returns the
// merged result.
package settings

import (
	"context"
	"fmt"
	"sync"

	"autotrader/internal/domain"
	"autotrader/internal/ports"
)

// Store caches the current settings snapshot under a RWMutex.
type Store struct {
	repo   ports.SettingsRepository
	logger ports.Logger

	mu      sync.RWMutex
	current domain.Settings
}

// NewStore loads the persisted record, seeding defaults on first run.
func NewStore(ctx context.Context, repo ports.SettingsRepository, logger ports.Logger) (*Store, error) {
	if repo == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for settings store")
	}
	s := &Store{repo: repo, logger: logger}
	if err := s.Refresh(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns the current settings snapshot.
func (s *Store) Get() domain.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Refresh re-loads settings from durable storage (hot reload). When no record
// exists yet, defaults are persisted so later updates have a base version.
func (s *Store) Refresh(ctx context.Context) error {
	loaded, err := s.repo.LoadSettings(ctx)
	if err != nil {
		return fmt.Errorf("failed to refresh settings: %w", err)
	}
	if loaded == nil {
		defaults := domain.DefaultSettings()
		if err := s.repo.SaveSettings(ctx, &defaults); err != nil {
			return fmt.Errorf("failed to seed default settings: %w", err)
		}
		loaded = &defaults
		s.logger.Info(ctx, "Seeded default auto-trade settings", map[string]interface{}{"version": loaded.Version})
	}
	s.mu.Lock()
	s.current = *loaded
	s.mu.Unlock()
	return nil
}

// Update merges the patch into the current record, persists it and returns
// the merged result.
func (s *Store) Update(ctx context.Context, patch domain.SettingsPatch) (domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	merged := s.current.Merge(patch)
	if err := s.repo.SaveSettings(ctx, &merged); err != nil {
		return domain.Settings{}, fmt.Errorf("failed to persist settings update: %w", err)
	}
	s.current = merged
	s.logger.Info(ctx, "Auto-trade settings updated", map[string]interface{}{"version": merged.Version, "enabled": merged.Enabled})
	return merged, nil
}
