package executor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/David-Botos/lexicon-migrate/pkg/model"
)

// Journal is the append-mostly log of executions. Save inserts or replaces
// the record with the same id.
type Journal interface {
	Save(ctx context.Context, exec model.Execution) error
	Get(ctx context.Context, id string) (model.Execution, error)
	List(ctx context.Context) ([]model.Execution, error)
}

// MemoryJournal keeps executions in process memory
type MemoryJournal struct {
	mu    sync.RWMutex
	execs map[string]model.Execution
}

// NewMemoryJournal creates an empty MemoryJournal
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{execs: make(map[string]model.Execution)}
}

// Save stores a copy of exec
func (j *MemoryJournal) Save(_ context.Context, exec model.Execution) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.execs[exec.ID] = exec.Clone()
	return nil
}

// Get returns the execution with the given id
func (j *MemoryJournal) Get(_ context.Context, id string) (model.Execution, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	exec, ok := j.execs[id]
	if !ok {
		return model.Execution{}, fmt.Errorf("%w: %s", model.ErrExecutionNotFound, id)
	}
	return exec.Clone(), nil
}

// List returns every execution ordered by start time
func (j *MemoryJournal) List(_ context.Context) ([]model.Execution, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	out := make([]model.Execution, 0, len(j.execs))
	for _, exec := range j.execs {
		out = append(out, exec.Clone())
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].StartTime.Equal(out[b].StartTime) {
			return out[a].ID < out[b].ID
		}
		return out[a].StartTime.Before(out[b].StartTime)
	})
	return out, nil
}
