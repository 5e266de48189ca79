package history

import "sync"

// Store keeps one transcript per session.
type Store struct {
	mu          sync.Mutex
	transcripts map[string]*Transcript
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{transcripts: make(map[string]*Transcript)}
}

// Get returns the transcript for the session, creating it on first use.
// An empty id creates a fresh session.
func (s *Store) Get(id string) *Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id != "" {
		if t, ok := s.transcripts[id]; ok {
			return t
		}
	}
	t := NewTranscript(id)
	s.transcripts[t.ID()] = t
	return t
}

// Drop removes a session transcript.
func (s *Store) Drop(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.transcripts, id)
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.transcripts)
}
