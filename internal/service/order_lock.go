package service

import "sync"

// orderLocks 按商户订单号的进程内互斥锁。
// 同一订单的"读状态 → 校验迁移 → 持久化"必须串行，不同订单互不阻塞。
type orderLocks struct {
	mu    sync.Mutex
	locks map[string]*orderLock
}

type orderLock struct {
	mu   sync.Mutex
	refs int
}

func newOrderLocks() *orderLocks {
	return &orderLocks{locks: make(map[string]*orderLock)}
}

// Lock 获取订单锁，返回释放函数
func (l *orderLocks) Lock(orderNo string) func() {
	l.mu.Lock()
	entry, ok := l.locks[orderNo]
	if !ok {
		entry = &orderLock{}
		l.locks[orderNo] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs <= 0 {
			delete(l.locks, orderNo)
		}
		l.mu.Unlock()
	}
}
