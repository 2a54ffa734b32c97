// Copyright 2025 The Steward Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrNotFound reports an unknown session id.
var ErrNotFound = errors.New("session: not found")

// Store persists sessions.
type Store interface {
	// Load returns the session with the given id.
	Load(id string) (*Session, error)

	// Save writes the session durably.
	Save(s *Session) error

	// Delete removes a session. Unknown ids are not an error.
	Delete(id string) error

	// List returns all stored session ids.
	List() ([]string, error)
}

// FileStore keeps one YAML file per session under a directory. Writes
// go through a temp file and a rename, so readers never see a torn
// session.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating session directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// path encodes the session id into the filename. Ids are opaque
// strings; separator bytes are escaped to keep the file inside dir.
func (fs *FileStore) path(id string) string {
	safe := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(id)
	return filepath.Join(fs.dir, safe+".yaml")
}

func (fs *FileStore) Load(id string) (*Session, error) {
	raw, err := os.ReadFile(fs.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	var s Session
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parsing session %s: %w", id, err)
	}
	return &s, nil
}

func (fs *FileStore) Save(s *Session) error {
	raw, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling session %s: %w", s.ID, err)
	}

	target := fs.path(s.ID)
	tmp, err := os.CreateTemp(fs.dir, ".session-*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), target)
}

func (fs *FileStore) Delete(id string) error {
	err := os.Remove(fs.path(id))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (fs *FileStore) List() ([]string, error) {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".yaml") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".yaml"))
	}
	return ids, nil
}

var _ Store = (*FileStore)(nil)

// MemoryStore keeps sessions in a map. Used in tests and serve mode
// smoke setups.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

func (m *MemoryStore) Load(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	copied := *s
	return &copied, nil
}

func (m *MemoryStore) Save(s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *s
	m.sessions[s.ID] = &copied
	return nil
}

func (m *MemoryStore) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *MemoryStore) List() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids, nil
}

var _ Store = (*MemoryStore)(nil)
