package signal

import (
	"context"
	"sync"
	"time"

	"github.com/Mayank77maruti/Meu-ChaT/internal/models"
)

// MemoryChannel implements Channel in process memory with the same retained
// last-write-wins semantics as the Redis channel. It backs single-process
// runs and the negotiator tests. Delivery is synchronous in the writer's
// goroutine, which deliberately lets a remote signal be processed before a
// local operation completes.
type MemoryChannel struct {
	mu    sync.Mutex
	calls map[string]*memoryCall
}

type memoryCall struct {
	primary    *models.CallRecord
	candidates map[string]*models.CallRecord
	subs       map[int]RecordFunc
	nextSub    int
}

func NewMemoryChannel() *MemoryChannel {
	return &MemoryChannel{calls: make(map[string]*memoryCall)}
}

func (c *MemoryChannel) call(callID string) *memoryCall {
	m, ok := c.calls[callID]
	if !ok {
		m = &memoryCall{
			candidates: make(map[string]*models.CallRecord),
			subs:       make(map[int]RecordFunc),
		}
		c.calls[callID] = m
	}
	return m
}

func (c *MemoryChannel) Subscribe(_ context.Context, callID string, fn RecordFunc) (func(), error) {
	c.mu.Lock()
	m := c.call(callID)
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn

	// Replay retained state before releasing the lock registers us for
	// future writes, mirroring the Redis replay.
	var replay []*models.CallRecord
	if m.primary != nil {
		replay = append(replay, m.primary)
	}
	for _, rec := range m.candidates {
		replay = append(replay, rec)
	}
	c.mu.Unlock()

	for _, rec := range replay {
		fn(rec)
	}

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			c.mu.Lock()
			if m, ok := c.calls[callID]; ok {
				delete(m.subs, id)
			}
			c.mu.Unlock()
		})
	}
	return unsubscribe, nil
}

func (c *MemoryChannel) fanout(callID string, rec *models.CallRecord) {
	c.mu.Lock()
	m, ok := c.calls[callID]
	if !ok {
		c.mu.Unlock()
		return
	}
	fns := make([]RecordFunc, 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(rec)
	}
}

func (c *MemoryChannel) Write(_ context.Context, callID string, rec *models.CallRecord) error {
	cp := *rec
	c.mu.Lock()
	c.call(callID).primary = &cp
	c.mu.Unlock()
	c.fanout(callID, &cp)
	return nil
}

func (c *MemoryChannel) WriteCandidate(_ context.Context, callID, senderID string, rec *models.CallRecord) error {
	cp := *rec
	c.mu.Lock()
	c.call(callID).candidates[senderID] = &cp
	c.mu.Unlock()
	c.fanout(callID, &cp)
	return nil
}

func (c *MemoryChannel) Remove(_ context.Context, callID string) error {
	c.mu.Lock()
	if m, ok := c.calls[callID]; ok {
		m.primary = nil
		m.candidates = make(map[string]*models.CallRecord)
	}
	c.mu.Unlock()
	return nil
}

func (c *MemoryChannel) RemoveAfter(callID string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		c.Remove(context.Background(), callID)
	})
}

// Retained returns the current primary record, for tests and diagnostics.
func (c *MemoryChannel) Retained(callID string) *models.CallRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.calls[callID]; ok {
		return m.primary
	}
	return nil
}

// RetainedCandidate returns the retained candidate for one sender.
func (c *MemoryChannel) RetainedCandidate(callID, senderID string) *models.CallRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.calls[callID]; ok {
		return m.candidates[senderID]
	}
	return nil
}
