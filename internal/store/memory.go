package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/hongjun500/im-go/internal/model"
)

// MemoryStore 进程内持久层，单机部署和测试使用
type MemoryStore struct {
	mu      sync.RWMutex
	bodies  map[string]*model.MessageBody // tenant:messageKey -> body
	history []model.HistoryRow
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{bodies: make(map[string]*model.MessageBody)}
}

func bodyKey(tenantID int32, messageKey string) string {
	return fmt.Sprintf("%d:%s", tenantID, messageKey)
}

func (s *MemoryStore) InsertMessageBody(_ context.Context, body *model.MessageBody) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *body
	s.bodies[bodyKey(body.TenantID, body.MessageKey)] = &cp
	return nil
}

func (s *MemoryStore) InsertHistoryRows(_ context.Context, rows []model.HistoryRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, rows...)
	return nil
}

func (s *MemoryStore) QueryMessageBody(_ context.Context, tenantID int32, messageKey string) (*model.MessageBody, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	body, ok := s.bodies[bodyKey(tenantID, messageKey)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *body
	return &cp, nil
}

func (s *MemoryStore) MarkDeleted(_ context.Context, tenantID int32, messageKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	body, ok := s.bodies[bodyKey(tenantID, messageKey)]
	if !ok {
		return ErrNotFound
	}
	body.DelFlag = 1
	return nil
}

// HistoryCount 测试用：当前历史行数
func (s *MemoryStore) HistoryCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}
