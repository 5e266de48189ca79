package tools

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// PatchEntry is one stored backup. ParentID links entries into the
// order they were applied so restores can walk the lineage.
type PatchEntry struct {
	ID        string    `json:"id"`
	ParentID  string    `json:"parent_id,omitempty"`
	FileName  string    `json:"file_name"`
	CreatedAt time.Time `json:"created_at"`
}

// patchStack is the on-disk index of patch backups (stack.json).
type patchStack struct {
	Entries []PatchEntry `json:"entries"`
}

func (s *patchStack) latest() *PatchEntry {
	if len(s.Entries) == 0 {
		return nil
	}
	return &s.Entries[len(s.Entries)-1]
}

func (s *patchStack) headID() string {
	if head := s.latest(); head != nil {
		return head.ID
	}
	return ""
}

func (s *patchStack) push(e PatchEntry) {
	s.Entries = append(s.Entries, e)
}

// find matches an entry by id or filename; an empty name selects the
// newest entry. Returns nil when nothing matches.
func (s *patchStack) find(name string) *PatchEntry {
	if name == "" {
		return s.latest()
	}
	for i := range s.Entries {
		if s.Entries[i].ID == name || s.Entries[i].FileName == name {
			return &s.Entries[i]
		}
	}
	return nil
}

// loadPatchStack reads stack.json, returning an empty stack when the
// file does not exist yet.
func loadPatchStack(path string) (*patchStack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &patchStack{}, nil
		}
		return nil, err
	}
	var ps patchStack
	if err := json.Unmarshal(data, &ps); err != nil {
		return nil, err
	}
	return &ps, nil
}

func (s *patchStack) save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
