package iio

import (
	"errors"
	"sync"
	"testing"

	"github.com/danmuck/blkio/internal/testutil/testlog"
	"github.com/danmuck/blkio/internal/transport"
	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"
)

func newTestClient(t *testing.T, jsonMode bool) (*Client, *fakeEngine, *recorder) {
	t.Helper()
	engine := newFakeEngine()
	rec := &recorder{}
	c, err := Init(Config{JSON: jsonMode, Engine: engine.factory}, rec.callback)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	return c, engine, rec
}

func openDevice(t *testing.T, c *Client, uri, dev string) (int32, int32) {
	t.Helper()
	cfd, err := c.Open(uri, 0)
	if err != nil {
		t.Fatalf("Open(%q): %v", uri, err)
	}
	rfd, err := c.DevOpen(cfd, dev, 0)
	if err != nil {
		t.Fatalf("DevOpen(%d, %q): %v", cfd, dev, err)
	}
	return cfd, rfd
}

func TestInitRequiresCallback(t *testing.T) {
	testlog.Start(t)
	if _, err := Init(Config{Engine: newFakeEngine().factory}, nil); !errors.Is(err, ErrNilCallback) {
		t.Fatalf("expected ErrNilCallback, got %v", err)
	}
}

func TestInitSurfacesEngineError(t *testing.T) {
	testlog.Start(t)
	boom := errors.New("boom")
	_, err := Init(Config{Engine: func(transport.CompletionFunc) (transport.Engine, error) {
		return nil, boom
	}}, func(int32, Reason, any, *Reply) {})
	if !errors.Is(err, boom) {
		t.Fatalf("expected engine error, got %v", err)
	}
}

func TestOpenAllocatesFromOne(t *testing.T) {
	testlog.Start(t)
	c, engine, _ := newTestClient(t, false)
	cfd, rfd := openDevice(t, c, "of://10.0.0.1:5555", "/vol/a")
	if cfd != 1 || rfd != 2 {
		t.Fatalf("handles got cfd=%d rfd=%d want 1, 2", cfd, rfd)
	}
	if diff := cmp.Diff([]string{"10.0.0.1:5555"}, engine.creates); diff != "" {
		t.Fatalf("create calls (-want +got):\n%s", diff)
	}
}

func TestOpenRejectsMalformedURI(t *testing.T) {
	testlog.Start(t)
	c, engine, _ := newTestClient(t, false)
	bad := []string{
		"",
		"of://",
		"of://host",
		"of://host:",
		"of://:5555",
		"nbd://host:5555",
		"of://host:55:55",
		"of://host:port/extra",
		"of://ho st:5555",
	}
	for _, uri := range bad {
		cfd, err := c.Open(uri, 0)
		if cfd != -1 || !errors.Is(err, ErrMalformedURI) {
			t.Fatalf("Open(%q) got cfd=%d err=%v", uri, cfd, err)
		}
	}
	if len(engine.creates) != 0 {
		t.Fatalf("malformed uris reached the engine: %v", engine.creates)
	}
	cfd, err := c.Open("of://host:5555", 0)
	if err != nil || cfd != 1 {
		t.Fatalf("first valid open got cfd=%d err=%v", cfd, err)
	}
}

func TestOpenChannelStatus(t *testing.T) {
	testlog.Start(t)
	c, engine, _ := newTestClient(t, false)
	engine.status["shared"] = transport.StatusChanExists
	engine.status["down"] = transport.StatusNotConnected

	cfd, err := c.Open("of://shared:1", 0)
	if err != nil || cfd != 1 {
		t.Fatalf("existing channel got cfd=%d err=%v", cfd, err)
	}
	cfd, err = c.Open("of://down:1", 0)
	if cfd != -1 || !errors.Is(err, transport.ErrNotConnected) {
		t.Fatalf("down host got cfd=%d err=%v", cfd, err)
	}
	cfd, err = c.Open("of://shared:1", 0)
	if err != nil || cfd != 2 {
		t.Fatalf("failed open consumed a handle: cfd=%d err=%v", cfd, err)
	}
}

func TestDevOpenErrors(t *testing.T) {
	testlog.Start(t)
	c, _, _ := newTestClient(t, false)
	if rfd, err := c.DevOpen(-1, "/vol/a", 0); rfd != -1 || !errors.Is(err, ErrBadHandle) {
		t.Fatalf("negative cfd got rfd=%d err=%v", rfd, err)
	}
	if rfd, err := c.DevOpen(7, "/vol/a", 0); rfd != -1 || !errors.Is(err, ErrNoDevice) {
		t.Fatalf("unknown cfd got rfd=%d err=%v", rfd, err)
	}
	cfd, err := c.Open("of://host:1", 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if rfd, err := c.DevOpen(cfd, "", 0); rfd != -1 || !errors.Is(err, ErrBadHandle) {
		t.Fatalf("empty devpath got rfd=%d err=%v", rfd, err)
	}
	rfd, err := c.DevOpen(cfd, "/vol/a", 0)
	if err != nil || rfd != 2 {
		t.Fatalf("failed devopens consumed a handle: rfd=%d err=%v", rfd, err)
	}
}

func TestCloseDoesNotCascade(t *testing.T) {
	testlog.Start(t)
	c, _, _ := newTestClient(t, false)
	cfd, rfd := openDevice(t, c, "of://10.0.0.1:5555", "/vol/a")

	if err := c.Close(cfd); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := c.Close(cfd); !errors.Is(err, ErrBadHandle) {
		t.Fatalf("second close: expected ErrBadHandle, got %v", err)
	}
	host, dev, err := c.resolveDevice(rfd)
	if err != nil || host != "10.0.0.1" || dev != "/vol/a" {
		t.Fatalf("device after channel close: host=%q dev=%q err=%v", host, dev, err)
	}
	if _, err := c.DevOpen(cfd, "/vol/b", 0); !errors.Is(err, ErrNoDevice) {
		t.Fatalf("devopen on closed channel: expected ErrNoDevice, got %v", err)
	}

	if err := c.DevClose(cfd, rfd); err != nil {
		t.Fatalf("devclose: %v", err)
	}
	if err := c.DevClose(cfd, rfd); !errors.Is(err, ErrNoDevice) {
		t.Fatalf("second devclose: expected ErrNoDevice, got %v", err)
	}
	if _, _, err := c.resolveDevice(rfd); !errors.Is(err, ErrNoDevice) {
		t.Fatalf("resolve after devclose: expected ErrNoDevice, got %v", err)
	}
}

func TestDevicePathWithSpaces(t *testing.T) {
	testlog.Start(t)
	c, _, _ := newTestClient(t, false)
	_, rfd := openDevice(t, c, "of://host:1", "/vol/with space")
	host, dev, err := c.resolveDevice(rfd)
	if err != nil || host != "host" || dev != "/vol/with space" {
		t.Fatalf("resolve got host=%q dev=%q err=%v", host, dev, err)
	}
}

func TestConcurrentOpensAreDistinct(t *testing.T) {
	testlog.Start(t)
	c, _, _ := newTestClient(t, false)
	cfd, err := c.Open("of://host:1", 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	var mu sync.Mutex
	seen := map[int32]bool{cfd: true}
	var g errgroup.Group
	for i := 0; i < 64; i++ {
		i := i
		g.Go(func() error {
			var h int32
			var err error
			if i%2 == 0 {
				h, err = c.Open("of://host:1", 0)
			} else {
				h, err = c.DevOpen(cfd, "/vol/a", 0)
			}
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if seen[h] {
				t.Errorf("handle %d issued twice", h)
			}
			seen[h] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent opens: %v", err)
	}
	if len(seen) != 65 {
		t.Fatalf("expected 65 distinct handles, got %d", len(seen))
	}
	if got := len(c.Channels()) + len(c.Devices()); got != 65 {
		t.Fatalf("tables hold %d handles", got)
	}
}

func TestHandleSnapshots(t *testing.T) {
	testlog.Start(t)
	c, _, _ := newTestClient(t, false)
	openDevice(t, c, "of://a:1", "/vol/a")
	openDevice(t, c, "of://b:2", "/vol/b")
	want := []HandleInfo{{Handle: 2, Host: "a", Device: "/vol/a"}, {Handle: 4, Host: "b", Device: "/vol/b"}}
	if diff := cmp.Diff(want, c.Devices()); diff != "" {
		t.Fatalf("devices (-want +got):\n%s", diff)
	}
	wantCh := []HandleInfo{{Handle: 1, Host: "a"}, {Handle: 3, Host: "b"}}
	if diff := cmp.Diff(wantCh, c.Channels()); diff != "" {
		t.Fatalf("channels (-want +got):\n%s", diff)
	}
}
