// Package cache holds the last data-state analysis between requests.
// Entries never expire; callers invalidate explicitly.
package cache

import (
	"context"
	"sync"

	"github.com/David-Botos/lexicon-migrate/pkg/model"
)

// AnalysisCache stores one DataStateAnalysis
type AnalysisCache interface {
	// Get returns the cached analysis; ok is false on a miss
	Get(ctx context.Context) (analysis model.DataStateAnalysis, ok bool, err error)
	Set(ctx context.Context, analysis model.DataStateAnalysis) error
	Invalidate(ctx context.Context) error
}

// Memory is a single-process AnalysisCache
type Memory struct {
	mu       sync.RWMutex
	analysis *model.DataStateAnalysis
}

// NewMemory creates an empty Memory cache
func NewMemory() *Memory {
	return &Memory{}
}

// Get returns the cached analysis
func (m *Memory) Get(_ context.Context) (model.DataStateAnalysis, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.analysis == nil {
		return model.DataStateAnalysis{}, false, nil
	}
	return *m.analysis, true, nil
}

// Set replaces the cached analysis
func (m *Memory) Set(_ context.Context, analysis model.DataStateAnalysis) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.analysis = &analysis
	return nil
}

// Invalidate clears the cache
func (m *Memory) Invalidate(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.analysis = nil
	return nil
}
