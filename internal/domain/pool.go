package domain

import (
	"container/heap"
	"sync"
	"time"

	"github.com/FreePeak/golang-sockjs-server-sdk/internal/infrastructure/logging"
)

// DefaultGCCycle is the cadence of the pool's garbage collection task.
const DefaultGCCycle = 10 * time.Second

// poolEntry is one heap element, ordered by the time the session was last
// scanned by the collector.
type poolEntry struct {
	lastChecked time.Time
	session     *Session
	index       int
}

// entryHeap is a min-heap of pool entries keyed on lastChecked.
type entryHeap []*poolEntry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	return h[i].lastChecked.Before(h[j].lastChecked)
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x interface{}) {
	entry := x.(*poolEntry)
	entry.index = len(*h)
	*h = append(*h, entry)
}

func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	entry.index = -1
	*h = old[:n-1]
	return entry
}

// Pool is a garbage collected session store. Sessions are indexed by id and
// kept on a min-heap ordered by last-check time, which the collector scans
// oldest first. All indexes are guarded by one mutex; a collection pass holds
// it for the whole sweep.
type Pool struct {
	mu sync.Mutex

	sessions map[string]*Session
	entries  map[*Session]*poolEntry
	cycles   map[*Session]time.Time
	heap     entryHeap

	gcCycle  time.Duration
	stopCh   chan struct{}
	started  bool
	stopping bool

	logger *logging.Logger
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithGCCycle sets the garbage collection cadence.
func WithGCCycle(cycle time.Duration) PoolOption {
	return func(p *Pool) { p.gcCycle = cycle }
}

// WithPoolLogger sets the logger used for pool events.
func WithPoolLogger(logger *logging.Logger) PoolOption {
	return func(p *Pool) { p.logger = logger }
}

// NewPool creates a session pool. Start must be called to launch the
// collector.
func NewPool(opts ...PoolOption) *Pool {
	p := &Pool{
		sessions: make(map[string]*Session),
		entries:  make(map[*Session]*poolEntry),
		cycles:   make(map[*Session]time.Time),
		gcCycle:  DefaultGCCycle,
		stopCh:   make(chan struct{}),
		logger:   logging.Default(),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Add inserts a session into the pool. The session must be new and its id
// must not already be present.
func (p *Pool) Add(session *Session) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopping {
		return ErrPoolStopped
	}

	if _, ok := p.sessions[session.ID()]; ok {
		return ErrSessionExists
	}

	if !session.New() {
		return ErrSessionNotNew
	}

	now := time.Now()
	entry := &poolEntry{lastChecked: now, session: session}

	p.sessions[session.ID()] = session
	p.entries[session] = entry
	p.cycles[session] = now
	heap.Push(&p.heap, entry)

	return nil
}

// Get returns the session with the given id, or nil.
func (p *Pool) Get(id string) *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessions[id]
}

// Remove deletes the session with the given id from the pool, interrupting
// it if it was still open. Returns whether the session existed.
func (p *Pool) Remove(id string) bool {
	p.mu.Lock()
	session := p.removeLocked(id)
	p.mu.Unlock()

	if session == nil {
		return false
	}

	if session.Opened() {
		session.Interrupt()
	}

	return true
}

// removeLocked drops the session from every index. The caller holds p.mu and
// is responsible for interrupting the session outside the lock.
func (p *Pool) removeLocked(id string) *Session {
	session, ok := p.sessions[id]
	if !ok {
		return nil
	}

	delete(p.sessions, id)
	delete(p.cycles, session)

	if entry, ok := p.entries[session]; ok {
		delete(p.entries, session)
		if entry.index >= 0 {
			heap.Remove(&p.heap, entry.index)
		}
	}

	return session
}

// Count returns the number of live sessions.
func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// Start launches the garbage collection task. Calling Start on a running
// pool is a no-op.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started || p.stopping {
		return
	}

	p.started = true

	go p.runGC()
}

// Stop cancels the collector and drains the pool, interrupting every session
// that is still open. Idempotent.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopping {
		p.mu.Unlock()
		return
	}

	p.stopping = true
	started := p.started
	p.mu.Unlock()

	if started {
		close(p.stopCh)
	}

	p.Drain()
}

// Drain removes every session from the pool, interrupting open ones.
func (p *Pool) Drain() {
	p.mu.Lock()
	sessions := make([]*Session, 0, len(p.sessions))
	for id := range p.sessions {
		if session := p.removeLocked(id); session != nil {
			sessions = append(sessions, session)
		}
	}
	p.mu.Unlock()

	for _, session := range sessions {
		if session.Opened() {
			session.Interrupt()
		}
	}
}

func (p *Pool) runGC() {
	ticker := time.NewTicker(p.gcCycle)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.GC(time.Now())
		}
	}
}

// GC runs one collection pass at the given wall time, holding the pool mutex
// throughout. The heap is keyed on last-check time and every surviving entry
// is pushed back stamped with the pass time, so the recorded cycle stamp is
// what breaks the loop once every candidate has been visited.
func (p *Pool) GC(now time.Time) {
	var interrupted []*Session

	p.mu.Lock()
	for p.heap.Len() > 0 {
		head := p.heap[0]
		session := head.session

		if cycle, ok := p.cycles[session]; ok && !cycle.Before(now) {
			// every remaining session was stamped this pass
			break
		}

		heap.Pop(&p.heap)

		if session.HasExpired(now) {
			delete(p.entries, session)
			delete(p.cycles, session)
			delete(p.sessions, session.ID())

			p.logger.Debug("session expired", logging.Fields{
				"session_id": session.ID(),
			})

			if session.Opened() {
				interrupted = append(interrupted, session)
			}

			continue
		}

		head.lastChecked = now
		p.cycles[session] = now
		heap.Push(&p.heap, head)
	}
	p.mu.Unlock()

	for _, session := range interrupted {
		session.Interrupt()
	}
}
