package offline

import (
	"context"
	"sort"
	"sync"

	"github.com/hongjun500/im-go/internal/model"
	"github.com/hongjun500/im-go/internal/observe"
)

// MemoryStore 进程内离线积压，单机部署和测试使用
type MemoryStore struct {
	mu       sync.Mutex
	max      int64
	backlogs map[string][]model.OfflineEntry // backlogKey -> entries asc by sequence
}

func NewMemoryStore(max int64) *MemoryStore {
	if max <= 0 {
		max = DefaultMax
	}
	return &MemoryStore{max: max, backlogs: make(map[string][]model.OfflineEntry)}
}

func (s *MemoryStore) Append(_ context.Context, tenantID int32, ownerID string, entry *model.OfflineEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := backlogKey(tenantID, ownerID)
	entries := s.backlogs[key]
	idx := sort.Search(len(entries), func(i int) bool { return entries[i].Sequence >= entry.Sequence })
	entries = append(entries, model.OfflineEntry{})
	copy(entries[idx+1:], entries[idx:])
	entries[idx] = *entry
	if int64(len(entries)) > s.max {
		evict := int64(len(entries)) - s.max
		entries = append([]model.OfflineEntry(nil), entries[evict:]...)
		observe.AddOfflineEvicted(float64(evict))
	}
	s.backlogs[key] = entries
	observe.IncOfflineEnqueued()
	return nil
}

func (s *MemoryStore) SyncRange(_ context.Context, tenantID int32, ownerID string, lastSeq, limit int64) (*model.SyncResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.backlogs[backlogKey(tenantID, ownerID)]

	var maxSeq int64
	if len(entries) > 0 {
		maxSeq = entries[len(entries)-1].Sequence
	}

	out := make([]model.OfflineEntry, 0, limit)
	for _, e := range entries {
		if e.Sequence <= lastSeq {
			continue
		}
		out = append(out, e)
		if int64(len(out)) >= limit {
			break
		}
	}

	return &model.SyncResult{
		Entries:     out,
		MaxSequence: maxSeq,
		Completed:   completed(out, maxSeq, lastSeq),
	}, nil
}

// Size 测试用：指定用户当前积压条数
func (s *MemoryStore) Size(tenantID int32, ownerID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.backlogs[backlogKey(tenantID, ownerID)])
}
