package iio

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/danmuck/blkio/internal/kvset"
	"github.com/danmuck/blkio/internal/testutil/testlog"
	"github.com/danmuck/blkio/internal/transport"
)

func TestSyncReadScenario(t *testing.T) {
	testlog.Start(t)
	c, engine, rec := newTestClient(t, false)
	_, rfd := openDevice(t, c, "of://10.0.0.1:5555", "/vol/a")
	engine.respond = func(msg *transport.Message) {
		msg.Complete(transport.StatusSuccess, bytes.Repeat([]byte{0xAB}, int(msg.Size)))
	}

	buf := make([]byte, 4096)
	if err := c.Read(context.Background(), rfd, buf, 0, nil, 0); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(buf, bytes.Repeat([]byte{0xAB}, 4096)) {
		t.Fatalf("buffer not filled")
	}
	msg := engine.last()
	if msg.Opcode != transport.OpRead || msg.DataType != transport.DataRaw || msg.Target != "/vol/a" || msg.Channel != "10.0.0.1" {
		t.Fatalf("unexpected read message: %+v", msg)
	}
	if msg.Size != 4096 || msg.IOFlags&transport.SourceTagAppIO == 0 {
		t.Fatalf("read size=%d ioflags=%x", msg.Size, msg.IOFlags)
	}
	if !msg.Released() || msg.Recv != nil {
		t.Fatalf("sync read leaked its message")
	}
	if len(rec.all()) != 0 {
		t.Fatalf("sync calls must not invoke the callback")
	}
}

func TestSyncErrorsReleaseMessage(t *testing.T) {
	testlog.Start(t)
	c, engine, _ := newTestClient(t, false)
	_, rfd := openDevice(t, c, "of://host:1", "/vol/a")
	engine.respond = func(msg *transport.Message) {
		msg.Complete(transport.StatusNoDevice, nil)
	}
	err := c.Writev(context.Background(), rfd, [][]byte{[]byte("x")}, 0, nil, 0)
	if !errors.Is(err, transport.ErrNoDevice) {
		t.Fatalf("expected transport no-device error, got %v", err)
	}
	if !engine.last().Released() {
		t.Fatalf("failed sync write was not released")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Read(ctx, rfd, make([]byte, 8), 0, nil, 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !engine.last().Released() {
		t.Fatalf("cancelled sync read was not released")
	}
}

func TestReadUnknownDevice(t *testing.T) {
	testlog.Start(t)
	c, engine, _ := newTestClient(t, false)
	if err := c.Read(context.Background(), 42, make([]byte, 8), 0, nil, FlagAsync); !errors.Is(err, ErrNoDevice) {
		t.Fatalf("expected ErrNoDevice, got %v", err)
	}
	if _, err := c.IoctlJSON(context.Background(), 42, transport.OpStat, "", nil, 0); !errors.Is(err, ErrNoDevice) {
		t.Fatalf("expected ErrNoDevice, got %v", err)
	}
	if engine.sentCount() != 0 {
		t.Fatalf("unresolved handles reached the engine")
	}
}

func TestWriteTooLargeNeverDispatches(t *testing.T) {
	testlog.Start(t)
	c, engine, _ := newTestClient(t, false)
	_, rfd := openDevice(t, c, "of://host:1", "/vol/a")
	third := MaxIOSize / 3
	segs := [][]byte{make([]byte, third), make([]byte, third), make([]byte, MaxIOSize-2*third+1)}
	for _, flags := range []Flags{0, FlagAsync} {
		err := c.Writev(context.Background(), rfd, segs, 0, nil, flags)
		if !errors.Is(err, ErrPayloadTooLarge) {
			t.Fatalf("flags=%d: expected ErrPayloadTooLarge, got %v", flags, err)
		}
	}
	if engine.sentCount() != 0 {
		t.Fatalf("oversized write reached the engine")
	}

	segs[2] = segs[2][:len(segs[2])-1]
	if err := c.Writev(context.Background(), rfd, segs, 0, nil, FlagAsync); err != nil {
		t.Fatalf("write of exactly MaxIOSize: %v", err)
	}
	if got := engine.last().PayloadSize; got != MaxIOSize {
		t.Fatalf("payload size=%d", got)
	}
}

func TestAsyncWireFlags(t *testing.T) {
	testlog.Start(t)
	c, engine, _ := newTestClient(t, false)
	_, rfd := openDevice(t, c, "of://host:1", "/vol/a")
	ctx := context.Background()

	cases := []struct {
		name string
		call func(Flags) error
		in   Flags
		want transport.Flags
	}{
		{"read", func(f Flags) error { return c.Read(ctx, rfd, make([]byte, 1), 0, nil, f) }, FlagAsync, transport.FlagReq | transport.FlagNeedResp},
		{"write", func(f Flags) error { return c.Writev(ctx, rfd, [][]byte{{1}}, 0, nil, f) }, FlagAsync, transport.FlagReq},
		{"write done", func(f Flags) error { return c.Writev(ctx, rfd, [][]byte{{1}}, 0, nil, f) }, FlagAsync | FlagDone, transport.FlagReq | transport.FlagNeedAck},
		{"write resp", func(f Flags) error { return c.Writev(ctx, rfd, [][]byte{{1}}, 0, nil, f) }, FlagAsync | FlagNeedResp, transport.FlagReq | transport.FlagNeedResp},
		{"ioctl", func(f Flags) error { _, err := c.IoctlJSON(ctx, rfd, transport.OpFlush, "", nil, f); return err }, FlagAsync, transport.FlagReq},
		{"ioctl done", func(f Flags) error { _, err := c.IoctlJSON(ctx, rfd, transport.OpFlush, "", nil, f); return err }, FlagAsync | FlagDone, transport.FlagReq | transport.FlagNeedResp},
	}
	for _, tc := range cases {
		if err := tc.call(tc.in); err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		msg := engine.last()
		if msg.Flags != tc.want {
			t.Fatalf("%s: wire flags=%x want=%x", tc.name, msg.Flags, tc.want)
		}
		if msg.Released() {
			t.Fatalf("%s: accepted async message released before completion", tc.name)
		}
	}
}

func TestAsyncRejectReleases(t *testing.T) {
	testlog.Start(t)
	c, engine, rec := newTestClient(t, false)
	_, rfd := openDevice(t, c, "of://host:1", "/vol/a")
	engine.sendErr = transport.ErrNotConnected

	err := c.Read(context.Background(), rfd, make([]byte, 8), 0, "ctx", FlagAsync)
	if !errors.Is(err, transport.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if !engine.last().Released() {
		t.Fatalf("rejected message was not released")
	}
	if len(rec.all()) != 0 {
		t.Fatalf("rejected message reached the callback")
	}
}

func TestIoctlInvalidJSONBuildsNothing(t *testing.T) {
	testlog.Start(t)
	c, engine, _ := newTestClient(t, false)
	_, rfd := openDevice(t, c, "of://host:1", "/vol/a")
	for _, in := range []string{"{bad", "[1,2]", `{"a":1} {}`} {
		out, err := c.IoctlJSON(context.Background(), rfd, transport.OpEcho, in, nil, 0)
		if out != nil || !errors.Is(err, ErrInvalidJSON) {
			t.Fatalf("IoctlJSON(%q) got out=%v err=%v", in, out, err)
		}
	}
	if engine.sentCount() != 0 {
		t.Fatalf("invalid json reached the engine")
	}
}

func echoResponder(t *testing.T) func(*transport.Message) {
	return func(msg *transport.Message) {
		var in []byte
		if len(msg.Send) > 0 {
			in = msg.Send[0]
		}
		if msg.DataType != transport.DataPS || msg.PayloadSize != uint64(len(in)) {
			t.Errorf("unexpected control message: %+v", msg)
		}
		msg.Complete(transport.StatusSuccess, in)
	}
}

func TestIoctlSyncJSONMode(t *testing.T) {
	testlog.Start(t)
	c, engine, _ := newTestClient(t, true)
	_, rfd := openDevice(t, c, "of://host:1", "/vol/a")
	engine.respond = echoResponder(t)

	out, err := c.IoctlJSON(context.Background(), rfd, transport.OpEcho, `{"size":64,"name":"a"}`, nil, 0)
	if err != nil {
		t.Fatalf("ioctl: %v", err)
	}
	text, ok := out.(JSONPayload)
	if !ok || text.Text != `{"size":64,"name":"a"}` {
		t.Fatalf("unexpected payload: %#v", out)
	}
	if !engine.last().Released() {
		t.Fatalf("sync ioctl leaked its message")
	}
}

func TestIoctlSyncSetMode(t *testing.T) {
	testlog.Start(t)
	c, engine, _ := newTestClient(t, false)
	_, rfd := openDevice(t, c, "of://host:1", "/vol/a")
	engine.respond = echoResponder(t)

	out, err := c.IoctlJSON(context.Background(), rfd, transport.OpEcho, `{"size":64}`, nil, 0)
	if err != nil {
		t.Fatalf("ioctl: %v", err)
	}
	set, ok := out.(SetPayload)
	if !ok {
		t.Fatalf("expected SetPayload, got %#v", out)
	}
	if size, ok := set.Set.GetUint("size"); !ok || size != 64 {
		t.Fatalf("size=%d ok=%v", size, ok)
	}

	out, err = c.IoctlJSON(context.Background(), rfd, transport.OpEcho, "", nil, 0)
	if err != nil || KindOf(out) != PayloadNone {
		t.Fatalf("empty echo got out=%#v err=%v", out, err)
	}
	if msg := engine.last(); msg.Send != nil || msg.PayloadSize != 0 {
		t.Fatalf("empty input must not carry a payload")
	}
}

func TestIoctlSyncBadPayload(t *testing.T) {
	testlog.Start(t)
	c, engine, _ := newTestClient(t, true)
	_, rfd := openDevice(t, c, "of://host:1", "/vol/a")
	engine.respond = func(msg *transport.Message) {
		msg.Complete(transport.StatusSuccess, []byte{0xff, 0xff, 0xff})
	}
	if _, err := c.IoctlJSON(context.Background(), rfd, transport.OpStat, "", nil, 0); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
	if !engine.last().Released() {
		t.Fatalf("decode failure leaked the message")
	}
}

func TestBuildControlMarshalsInput(t *testing.T) {
	testlog.Start(t)
	c, _, _ := newTestClient(t, false)
	_, rfd := openDevice(t, c, "of://host:1", "/vol/a")
	msg, err := c.buildControl(rfd, transport.OpResize, `{"size":128}`, "u")
	if err != nil {
		t.Fatalf("buildControl: %v", err)
	}
	set, err := kvset.Unmarshal(msg.Send[0])
	if err != nil {
		t.Fatalf("unmarshal send payload: %v", err)
	}
	if size, ok := set.GetUint("size"); !ok || size != 128 {
		t.Fatalf("size=%d ok=%v", size, ok)
	}
	if msg.UserCtx != "u" || msg.Opcode != transport.OpResize {
		t.Fatalf("unexpected message: %+v", msg)
	}
}
