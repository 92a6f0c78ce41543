package engine

import (
	"log"
	"sync"
	"sync/atomic"
)

// 收件箱容量：覆盖突发的语音事件与定时器回调，正常不会打满。
const inboxCapacity = 128

// Actor 设备级串行执行器。一台设备的所有会话变更（用户话语、
// 定时器回调、模式切换）都投递到同一个 actor 按 FIFO 处理，
// 以此代替细粒度锁。
type Actor struct {
	deviceID string
	inbox    chan func()
	done     chan struct{}
	wg       sync.WaitGroup
	closed   atomic.Bool

	// 统计只增不减，Stats 读取时做快照。
	submitted atomic.Int64
	processed atomic.Int64
	dropped   atomic.Int64
}

// ActorStats actor 的处理统计快照。
type ActorStats struct {
	Submitted int64
	Processed int64
	Dropped   int64
	Pending   int
}

func newActor(deviceID string) *Actor {
	a := &Actor{
		deviceID: deviceID,
		inbox:    make(chan func(), inboxCapacity),
		done:     make(chan struct{}),
	}
	a.wg.Add(1)
	go a.processLoop()
	return a
}

func (a *Actor) processLoop() {
	defer a.wg.Done()
	for {
		select {
		case job := <-a.inbox:
			job()
			a.processed.Add(1)
		case <-a.done:
			// 收尾：把已入队的任务处理完再退出。
			for {
				select {
				case job := <-a.inbox:
					job()
					a.processed.Add(1)
				default:
					return
				}
			}
		}
	}
}

// Submit 投递一个任务。收件箱满或 actor 已关闭时丢弃并返回 false。
func (a *Actor) Submit(job func()) bool {
	if a.closed.Load() {
		a.dropped.Add(1)
		return false
	}
	select {
	case a.inbox <- job:
		a.submitted.Add(1)
		return true
	default:
		a.dropped.Add(1)
		log.Printf("[Actor] 收件箱已满，丢弃任务 device=%s", a.deviceID)
		return false
	}
}

// Close 停止 actor 并等待在途任务处理完毕。
func (a *Actor) Close() {
	if a.closed.CompareAndSwap(false, true) {
		close(a.done)
	}
	a.wg.Wait()
}

// Stats 返回统计快照。
func (a *Actor) Stats() ActorStats {
	return ActorStats{
		Submitted: a.submitted.Load(),
		Processed: a.processed.Load(),
		Dropped:   a.dropped.Load(),
		Pending:   len(a.inbox),
	}
}

// Actors 设备到 actor 的注册表，按需创建。
type Actors struct {
	mu sync.Mutex
	m  map[string]*Actor
}

func NewActors() *Actors {
	return &Actors{m: make(map[string]*Actor)}
}

// Get 返回设备的 actor，不存在时创建。
func (s *Actors) Get(deviceID string) *Actor {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.m[deviceID]
	if !ok {
		a = newActor(deviceID)
		s.m[deviceID] = a
	}
	return a
}

// Submit 投递任务到设备的 actor。
func (s *Actors) Submit(deviceID string, job func()) bool {
	return s.Get(deviceID).Submit(job)
}

// Release 关闭并移除设备的 actor（设备断连时调用）。
func (s *Actors) Release(deviceID string) {
	s.mu.Lock()
	a, ok := s.m[deviceID]
	delete(s.m, deviceID)
	s.mu.Unlock()
	if ok {
		a.Close()
	}
}
