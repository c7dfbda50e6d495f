package iio

import (
	"context"
	"sync"

	"github.com/danmuck/blkio/internal/transport"
)

// fakeEngine records messages and lets tests drive completions by hand.
type fakeEngine struct {
	mu      sync.Mutex
	done    transport.CompletionFunc
	status  map[string]transport.Status
	creates []string
	sent    []*transport.Message
	sendErr error
	// respond completes synchronous messages before SendAndWait returns.
	respond func(*transport.Message)
	closed  bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{status: make(map[string]transport.Status)}
}

func (f *fakeEngine) factory(done transport.CompletionFunc) (transport.Engine, error) {
	f.done = done
	return f, nil
}

func (f *fakeEngine) CreateChannel(host, port string) transport.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, host+":"+port)
	if status, ok := f.status[host]; ok {
		return status
	}
	return transport.StatusSuccess
}

func (f *fakeEngine) Send(msg *transport.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return f.sendErr
}

func (f *fakeEngine) SendAndWait(ctx context.Context, msg *transport.Message) error {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	respond := f.respond
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if respond != nil {
		respond(msg)
	}
	return msg.Status.Err()
}

func (f *fakeEngine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeEngine) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeEngine) last() *transport.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

type callbackEvent struct {
	handle  int32
	reason  Reason
	userCtx any
	reply   *Reply
}

type recorder struct {
	mu     sync.Mutex
	events []callbackEvent
}

func (r *recorder) callback(handle int32, reason Reason, userCtx any, reply *Reply) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, callbackEvent{handle: handle, reason: reason, userCtx: userCtx, reply: reply})
}

func (r *recorder) all() []callbackEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]callbackEvent(nil), r.events...)
}
