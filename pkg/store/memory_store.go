package store

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"bluelight/pkg/domain"
)

// MemoryStore keeps sessions, messages and file records in-process.
// Transactions are serialized and applied to a copy that replaces the live
// data on commit.
type MemoryStore struct {
	txMu     sync.Mutex
	mu       sync.RWMutex
	sessions map[string]domain.DrawingSession
	chats    map[string][]domain.Message
	files    map[string]domain.FileRecord
	nextID   int64
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]domain.DrawingSession),
		chats:    make(map[string][]domain.Message),
		files:    make(map[string]domain.FileRecord),
	}
}

// WithinTx runs fn against a private copy and publishes it when fn succeeds.
func (m *MemoryStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.RLock()
	work := m.cloneLocked()
	m.mu.RUnlock()

	if err := fn(work); err != nil {
		return err
	}

	work.mu.RLock()
	defer work.mu.RUnlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = work.sessions
	m.chats = work.chats
	m.files = work.files
	m.nextID = work.nextID
	return nil
}

func (m *MemoryStore) cloneLocked() *MemoryStore {
	c := NewMemoryStore()
	maps.Copy(c.sessions, m.sessions)
	maps.Copy(c.files, m.files)
	for id, msgs := range m.chats {
		c.chats[id] = append([]domain.Message(nil), msgs...)
	}
	c.nextID = m.nextID
	return c
}

// SaveSession stores or replaces a session.
func (m *MemoryStore) SaveSession(_ context.Context, s domain.DrawingSession) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[s.ID]; ok && s.CreatedAt.IsZero() {
		s.CreatedAt = existing.CreatedAt
	}
	m.sessions[s.ID] = s
	return nil
}

// GetSession retrieves a session by ID.
func (m *MemoryStore) GetSession(_ context.Context, id string) (domain.DrawingSession, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok, nil
}

// AppendMessage records a message with a per-session monotonic timestamp.
func (m *MemoryStore) AppendMessage(_ context.Context, msg domain.Message) (domain.Message, error) {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	var last time.Time
	if msgs := m.chats[msg.SessionID]; len(msgs) > 0 {
		last = msgs[len(msgs)-1].CreatedAt
	}
	m.nextID++
	msg.ID = m.nextID
	msg.CreatedAt = nextMessageTime(last)
	msg.Metadata = copyMetadata(msg.Metadata)
	m.chats[msg.SessionID] = append(m.chats[msg.SessionID], msg)
	out := msg
	out.Metadata = copyMetadata(msg.Metadata)
	return out, nil
}

// ListMessages returns messages oldest first.
func (m *MemoryStore) ListMessages(_ context.Context, sessionID string, limit int) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.chats[sessionID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	out := make([]domain.Message, len(msgs))
	for i, msg := range msgs {
		msg.Metadata = copyMetadata(msg.Metadata)
		out[i] = msg
	}
	return out, nil
}

// copyMetadata detaches metadata from the caller through the same JSON
// encoding the relational store applies.
func copyMetadata(meta map[string]any) map[string]any {
	if len(meta) == 0 {
		return nil
	}
	return messageFromModel(messageToModel(domain.Message{Metadata: meta})).Metadata
}

// DeleteMessages drops the conversation of a session.
func (m *MemoryStore) DeleteMessages(_ context.Context, sessionID string) (int64, error) {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.chats[sessionID]))
	delete(m.chats, sessionID)
	return n, nil
}

// SaveFile stores a file record.
func (m *MemoryStore) SaveFile(_ context.Context, f domain.FileRecord) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[f.ID] = f
	return nil
}

// LatestFile returns the newest file of a kind for a session.
func (m *MemoryStore) LatestFile(_ context.Context, sessionID string, kind domain.FileKind) (domain.FileRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var matches []domain.FileRecord
	for _, f := range m.files {
		if f.SessionID == sessionID && f.Kind == kind {
			matches = append(matches, f)
		}
	}
	if len(matches) == 0 {
		return domain.FileRecord{}, false, nil
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].UploadedAt.After(matches[j].UploadedAt)
	})
	return matches[0], true, nil
}
