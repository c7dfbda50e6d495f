package transport

import (
	"sort"
	"sync"
	"time"
)

// PendingRequest describes one in-flight message awaiting its reply.
type PendingRequest struct {
	ID       uint64
	Opcode   Opcode
	Target   string
	QueuedAt time.Time
}

type pendingEntry struct {
	msg      *Message
	queuedAt time.Time
}

// pendingTable stores in-flight messages by message ID. take and drain hand
// each message out at most once.
type pendingTable struct {
	mu    sync.Mutex
	items map[uint64]pendingEntry
}

func newPendingTable() *pendingTable {
	return &pendingTable{
		items: make(map[uint64]pendingEntry),
	}
}

func (p *pendingTable) add(msg *Message, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items[msg.ID] = pendingEntry{msg: msg, queuedAt: at}
}

func (p *pendingTable) take(id uint64) (*Message, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	item, ok := p.items[id]
	if !ok {
		return nil, false
	}
	delete(p.items, id)
	return item.msg, true
}

func (p *pendingTable) drain() []*Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Message, 0, len(p.items))
	for id, item := range p.items {
		out = append(out, item.msg)
		delete(p.items, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}

func (p *pendingTable) list() []PendingRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PendingRequest, 0, len(p.items))
	for id, item := range p.items {
		out = append(out, PendingRequest{
			ID:       id,
			Opcode:   item.msg.Opcode,
			Target:   item.msg.Target,
			QueuedAt: item.queuedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}
