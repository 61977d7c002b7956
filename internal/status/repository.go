package status

import (
	"errors"
	"sort"
	"sync"
	"time"

	"hls-segmenter/internal/segmenter"
)

// Repository defines the concurrency-safe contract for publishing and
// reading job snapshots.
type Repository interface {
	// Publish replaces the snapshot of a job, creating the job if needed.
	// If the job has been ended, ErrJobEnded is returned.
	Publish(snap Snapshot) error

	// Get returns a copy of the snapshot of a job.
	Get(id JobID) (Snapshot, bool)

	// List returns the snapshots of all jobs, oldest first.
	List() []Snapshot

	// End marks a job as ended. Its snapshot is frozen afterwards.
	End(id JobID) error

	// ActiveJobCount returns the number of jobs that are not ended.
	// Used for metrics.
	ActiveJobCount() int
}

// ErrJobEnded is returned when publishing a snapshot of a job that has already been ended.
var ErrJobEnded = errors.New("job has ended")

// InMemoryRepository is a concurrency-safe in-memory implementation of Repository.
// It uses a Store for persistence; by default that is an InMemoryStore.
type InMemoryRepository struct {
	mu    sync.RWMutex
	store Store
	now   func() time.Time
}

// NewInMemoryRepository constructs a new repository with a default in-memory store.
func NewInMemoryRepository() *InMemoryRepository {
	return NewInMemoryRepositoryWithStore(NewInMemoryStore())
}

// NewInMemoryRepositoryWithStore constructs a repository that uses the given Store.
func NewInMemoryRepositoryWithStore(store Store) *InMemoryRepository {
	return &InMemoryRepository{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Publish implements Repository.Publish.
func (r *InMemoryRepository) Publish(snap Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()

	job, ok := r.store.GetJob(snap.ID)
	if !ok {
		job = &JobState{ID: snap.ID}
		snap.StartedAt = now
		r.store.SetJob(job)
	} else {
		if job.Ended {
			return ErrJobEnded
		}
		snap.StartedAt = job.Snapshot.StartedAt
	}

	snap.UpdatedAt = now
	snap.Ended = false
	snap.Segments = append([]segmenter.Entry(nil), snap.Segments...)
	job.Snapshot = snap

	return nil
}

// Get implements Repository.Get.
func (r *InMemoryRepository) Get(id JobID) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.store.GetJob(id)
	if !ok {
		return Snapshot{}, false
	}

	return copySnapshot(job.Snapshot), true
}

// List implements Repository.List.
func (r *InMemoryRepository) List() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.store.ListJobIDs()
	out := make([]Snapshot, 0, len(ids))
	for _, id := range ids {
		if job, ok := r.store.GetJob(id); ok {
			out = append(out, copySnapshot(job.Snapshot))
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})

	return out
}

// End implements Repository.End.
func (r *InMemoryRepository) End(id JobID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, exists := r.store.GetJob(id)
	if !exists {
		// Treat ending a non-existent job as a no-op for idempotency.
		return nil
	}

	if job.Ended {
		return nil
	}

	job.Ended = true
	job.Snapshot.Ended = true
	job.Snapshot.UpdatedAt = r.now()

	return nil
}

// ActiveJobCount implements Repository.ActiveJobCount.
func (r *InMemoryRepository) ActiveJobCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, id := range r.store.ListJobIDs() {
		if j, ok := r.store.GetJob(id); ok && !j.Ended {
			n++
		}
	}
	return n
}

func copySnapshot(s Snapshot) Snapshot {
	s.Segments = append([]segmenter.Entry(nil), s.Segments...)
	return s
}
