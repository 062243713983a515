package pipeline

import (
	"sync"

	"github.com/hongjun500/im-go/internal/observe"
)

// Pool 有界工作池。队列满时任务直接在提交方 goroutine 上执行，
// 形成背压而不是悄悄丢任务。
type Pool struct {
	tasks chan func()
	wg    sync.WaitGroup

	closeOnce sync.Once
	closed    chan struct{}
}

func NewPool(workers, queue int) *Pool {
	if workers <= 0 {
		workers = 8
	}
	if queue <= 0 {
		queue = 1000
	}
	p := &Pool{
		tasks:  make(chan func(), queue),
		closed: make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case task := <-p.tasks:
			task()
		case <-p.closed:
			// 清空剩余任务再退出
			for {
				select {
				case task := <-p.tasks:
					task()
				default:
					return
				}
			}
		}
	}
}

// Submit 提交任务；池已满则在当前 goroutine 上执行
func (p *Pool) Submit(task func()) {
	select {
	case <-p.closed:
		task()
		return
	default:
	}
	select {
	case p.tasks <- task:
	default:
		observe.IncWorkerOverflow()
		task()
	}
}

// Shutdown 停止收新任务并等在途任务跑完
func (p *Pool) Shutdown() {
	p.closeOnce.Do(func() { close(p.closed) })
	p.wg.Wait()
}
