package state

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Store persists and loads State. The on-disk layout is an opaque
// key/value blob per spec.md §6; the concrete format is
// implementation-defined as long as it round-trips losslessly.
type Store interface {
	Load() (State, error)
	Save(State) error
}

// FileStore is the default Store, backed by a YAML file on the local
// filesystem.
type FileStore struct {
	Path string
}

// NewFileStore builds a FileStore at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// Load reads the persisted state. A missing file is not an error — it
// is the first-boot case, and Load returns Empty().
func (s *FileStore) Load() (State, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return Empty(), nil
		}
		return State{}, fmt.Errorf("state: load %s: %w", s.Path, err)
	}
	var st State
	if err := yaml.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("state: parse %s: %w", s.Path, err)
	}
	if st.ModuleChecksums == nil {
		st.ModuleChecksums = make(map[ModuleLocation]uint32)
	}
	return st, nil
}

// Save writes st atomically: it writes to a temp file in the same
// directory and renames over the target, so a crash mid-write cannot
// leave a torn snapshot. Per spec.md §7, a failure here is the
// caller's to log, not propagate — the next successful save corrects
// it.
func (s *FileStore) Save(st State) error {
	data, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("state: marshal: %w", err)
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("state: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		return fmt.Errorf("state: rename %s to %s: %w", tmp, s.Path, err)
	}
	return nil
}

// MemStore is an in-memory Store for tests.
type MemStore struct {
	State State
}

// NewMemStore builds a MemStore seeded with an empty state.
func NewMemStore() *MemStore {
	return &MemStore{State: Empty()}
}

func (s *MemStore) Load() (State, error) {
	return s.State.Clone(), nil
}

func (s *MemStore) Save(st State) error {
	s.State = st.Clone()
	return nil
}
