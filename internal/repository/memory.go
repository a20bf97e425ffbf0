package repository

import (
	"context"
	"sync"
)

// MemoryMarkerRepository keeps running markers in process memory. This is
// the correctness baseline: markers are transient by definition and a
// restart starts with a clean set.
type MemoryMarkerRepository struct {
	mu      sync.Mutex
	markers map[int64]bool
}

func NewMemoryMarkerRepository() *MemoryMarkerRepository {
	return &MemoryMarkerRepository{markers: make(map[int64]bool)}
}

func (r *MemoryMarkerRepository) TryAcquire(ctx context.Context, taskID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.markers[taskID] {
		return false, nil
	}
	r.markers[taskID] = true
	return true, nil
}

func (r *MemoryMarkerRepository) Release(ctx context.Context, taskID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.markers, taskID)
	return nil
}

func (r *MemoryMarkerRepository) Held(ctx context.Context, taskID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.markers[taskID], nil
}

func (r *MemoryMarkerRepository) Clear(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markers = make(map[int64]bool)
	return nil
}
