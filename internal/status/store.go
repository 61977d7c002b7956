package status

// Store is the persistence abstraction for job state.
// The Repository uses Store for all reads and writes; callers of Repository
// do not need to know which Store is used.
type Store interface {
	GetJob(id JobID) (*JobState, bool)
	SetJob(j *JobState)
	ListJobIDs() []JobID
}

// InMemoryStore is an in-memory implementation of Store.
type InMemoryStore struct {
	jobs map[JobID]*JobState
}

// NewInMemoryStore returns a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		jobs: make(map[JobID]*JobState),
	}
}

// GetJob implements Store.GetJob.
func (s *InMemoryStore) GetJob(id JobID) (*JobState, bool) {
	j, ok := s.jobs[id]
	return j, ok
}

// SetJob implements Store.SetJob.
func (s *InMemoryStore) SetJob(j *JobState) {
	s.jobs[j.ID] = j
}

// ListJobIDs implements Store.ListJobIDs.
func (s *InMemoryStore) ListJobIDs() []JobID {
	ids := make([]JobID, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	return ids
}
