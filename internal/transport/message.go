package transport

import (
	"sync"
	"sync/atomic"
)

const pooledBufSize = 64 * 1024

var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, 0, pooledBufSize)
		return &b
	},
}

// Message is one request and, after completion, its response.
type Message struct {
	ID          uint64
	Handle      int32
	Opcode      Opcode
	DataType    DataType
	Channel     string
	Target      string
	Offset      uint64
	Size        uint64
	PayloadSize uint64
	IOFlags     IOFlags
	Flags       Flags

	// Send holds the request payload segments, Recv the response buffers.
	// For raw reads Recv[0] is the caller's buffer.
	Send [][]byte
	Recv [][]byte

	NBytes  uint64
	Status  Status
	UserCtx any

	pooled   *[]byte
	released atomic.Bool
	done     chan struct{}
	// writing is held by the sender while the request frame is on the wire.
	writing sync.Mutex
}

// awaitWrite blocks until the sender has finished writing m. Completion
// paths call it before taking ownership.
func (m *Message) awaitWrite() {
	m.writing.Lock()
	m.writing.Unlock()
}

// Complete records the remote result on m. Raw payloads are copied into the
// first receive buffer; structured payloads land in an engine-pooled buffer
// that is returned by Release.
func (m *Message) Complete(status Status, payload []byte) {
	m.Status = status
	if status != StatusSuccess || len(payload) == 0 {
		return
	}
	switch m.DataType {
	case DataRaw:
		if len(m.Recv) == 0 {
			return
		}
		m.NBytes = uint64(copy(m.Recv[0], payload))
	case DataPS:
		bp := bufPool.Get().(*[]byte)
		buf := append((*bp)[:0], payload...)
		*bp = buf
		m.pooled = bp
		m.Recv = [][]byte{buf}
		m.NBytes = uint64(len(buf))
	}
}

// Release drops the send/receive vectors and returns pooled buffers. It must
// run exactly once per message; later calls report ErrDoubleRelease.
func (m *Message) Release() error {
	if !m.released.CompareAndSwap(false, true) {
		return ErrDoubleRelease
	}
	m.Send = nil
	m.Recv = nil
	if m.pooled != nil {
		if cap(*m.pooled) <= 4*pooledBufSize {
			bufPool.Put(m.pooled)
		}
		m.pooled = nil
	}
	return nil
}

func (m *Message) Released() bool {
	return m.released.Load()
}

// SendLen is the total length of the send segments.
func (m *Message) SendLen() uint64 {
	var n uint64
	for _, seg := range m.Send {
		n += uint64(len(seg))
	}
	return n
}

// Hangup builds the event delivered once when the channel to host drops.
func Hangup(host string) *Message {
	return &Message{Channel: host, Status: StatusChannelHup}
}
