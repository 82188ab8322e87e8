package judge

import (
	"context"
	"encoding/json"
	"maps"
	"sync"
)

// SessionState is the persisted form of one backend session: cookies keyed
// by site origin and name, plus backend-specific tokens.
type SessionState struct {
	Cookies map[string]map[string]string `json:"cookies,omitempty"`
	Extra   map[string]string            `json:"extra,omitempty"`
}

// Empty reports whether the state holds nothing worth restoring.
func (s SessionState) Empty() bool {
	for _, c := range s.Cookies {
		if len(c) > 0 {
			return false
		}
	}
	for _, v := range s.Extra {
		if v != "" {
			return false
		}
	}
	return true
}

// EncodeSession serializes a SessionState into a store blob.
func EncodeSession(s SessionState) ([]byte, error) {
	return json.Marshal(s)
}

// DecodeSession parses a store blob.
func DecodeSession(b []byte) (SessionState, error) {
	var s SessionState
	if len(b) == 0 {
		return s, nil
	}
	err := json.Unmarshal(b, &s)
	return s, err
}

// AuthState is the position of a backend in the session lifecycle.
type AuthState int

const (
	Anonymous AuthState = iota
	Authenticating
	Authenticated
)

func (s AuthState) String() string {
	switch s {
	case Anonymous:
		return "anonymous"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Store persists opaque per-backend session blobs. Load returns a nil blob
// when nothing was saved for the backend.
type Store interface {
	Load(ctx context.Context, backend string) ([]byte, error)
	Save(ctx context.Context, backend string, blob []byte) error
}

// MemoryStore is a Store kept in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (m *MemoryStore) Load(_ context.Context, backend string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blobs[backend]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), b...), nil
}

func (m *MemoryStore) Save(_ context.Context, backend string, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[backend] = append([]byte(nil), blob...)
	return nil
}

// Snapshot copies every saved blob.
func (m *MemoryStore) Snapshot() map[string][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.blobs)
}
