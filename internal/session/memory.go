package session

import (
	"context"
	"sync"

	"github.com/hongjun500/im-go/internal/model"
)

// MemoryStore 进程内会话存储，单机部署和测试使用
type MemoryStore struct {
	mu   sync.RWMutex
	recs map[string]map[string]model.SessionRecord // sessionKey -> field -> record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[string]map[string]model.SessionRecord)}
}

func (s *MemoryStore) Upsert(_ context.Context, rec *model.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sessionKey(rec.TenantID, rec.UserID)
	m, ok := s.recs[key]
	if !ok {
		m = make(map[string]model.SessionRecord)
		s.recs[key] = m
	}
	m[rec.Field()] = *rec
	return nil
}

func (s *MemoryStore) SetState(_ context.Context, tenantID int32, userID string, deviceClass int32, deviceID string, state int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.recs[sessionKey(tenantID, userID)]
	if !ok {
		return ErrSessionNotFound
	}
	field := model.DeviceField(deviceClass, deviceID)
	rec, ok := m[field]
	if !ok {
		return ErrSessionNotFound
	}
	rec.ConnectState = state
	m[field] = rec
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, tenantID int32, userID string, deviceClass int32, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.recs[sessionKey(tenantID, userID)]; ok {
		delete(m, model.DeviceField(deviceClass, deviceID))
	}
	return nil
}

func (s *MemoryStore) List(_ context.Context, tenantID int32, userID string) ([]model.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.recs[sessionKey(tenantID, userID)]
	out := make([]model.SessionRecord, 0, len(m))
	for _, rec := range m {
		out = append(out, rec)
	}
	return out, nil
}

func (s *MemoryStore) IsOnline(ctx context.Context, tenantID int32, userID string) (bool, error) {
	recs, err := s.List(ctx, tenantID, userID)
	if err != nil {
		return false, err
	}
	for _, rec := range recs {
		if rec.ConnectState == model.StateOnline {
			return true, nil
		}
	}
	return false, nil
}
