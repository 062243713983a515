package pipeline

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// lockArena 按 messageId 懒创建的锁池，带过期淘汰避免无限增长。
// 锁只在去重判定这一小段里持有，容量配合 PROCESSING 状态的短 TTL，
// 即便极端情况下同一 id 被淘汰后重建，共享状态仍能兜底。
type lockArena struct {
	mu    sync.Mutex
	locks *expirable.LRU[string, *sync.Mutex]
}

func newLockArena() *lockArena {
	return &lockArena{
		locks: expirable.NewLRU[string, *sync.Mutex](4096, nil, 10*time.Minute),
	}
}

func (a *lockArena) get(key string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	if m, ok := a.locks.Get(key); ok {
		return m
	}
	m := &sync.Mutex{}
	a.locks.Add(key, m)
	return m
}
