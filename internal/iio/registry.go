package iio

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/danmuck/blkio/internal/transport"
	"github.com/rs/zerolog/log"
)

// Scheme is the only URI scheme Open accepts.
const Scheme = "of"

var uriPattern = regexp.MustCompile(`^` + Scheme + `://([^:\s]+):([A-Za-z0-9]+)$`)

// HandleInfo describes one open handle. Device is empty for channels.
type HandleInfo struct {
	Handle int32  `json:"handle" yaml:"handle"`
	Host   string `json:"host" yaml:"host"`
	Device string `json:"device,omitempty" yaml:"device,omitempty"`
}

// ParseURI splits an "of://host:port" URI.
func ParseURI(uri string) (host, port string, err error) {
	m := uriPattern.FindStringSubmatch(uri)
	if len(m) != 3 {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedURI, uri)
	}
	return m[1], m[2], nil
}

// Open connects a channel to the host named by uri and returns its handle.
// An already connected host still gets a fresh handle.
func (c *Client) Open(uri string, flags uint32) (int32, error) {
	host, port, err := ParseURI(uri)
	if err != nil {
		log.Debug().Str("uri", uri).Msg("iio.Open parse uri failed")
		return -1, err
	}
	status := c.engine.CreateChannel(host, port)
	switch status {
	case transport.StatusSuccess, transport.StatusChanExists:
	default:
		return -1, fmt.Errorf("iio: open %s:%s: %w", host, port, status.Err())
	}
	cfd := c.next.Add(1)
	c.channels.insert(cfd, host)
	log.Debug().
		Int32("cfd", cfd).
		Str("host", host).
		Bool("existing", status == transport.StatusChanExists).
		Uint32("flags", flags).
		Msg("iio.Open channel ready")
	return cfd, nil
}

// DevOpen returns a device handle for devpath on the channel cfd. The
// device records the channel's host, not cfd itself, so it outlives Close.
func (c *Client) DevOpen(cfd int32, devpath string, flags uint32) (int32, error) {
	if cfd < 0 {
		return -1, fmt.Errorf("%w: cfd=%d", ErrBadHandle, cfd)
	}
	if devpath == "" {
		return -1, fmt.Errorf("%w: empty device path", ErrBadHandle)
	}
	host, ok := c.channels.find(cfd)
	if !ok {
		return -1, fmt.Errorf("%w: cfd=%d", ErrNoDevice, cfd)
	}
	rfd := c.next.Add(1)
	c.devices.insert(rfd, host+" "+devpath)
	log.Debug().Int32("cfd", cfd).Int32("rfd", rfd).Str("dev", devpath).Uint32("flags", flags).Msg("iio.DevOpen")
	return rfd, nil
}

// DevClose drops the device handle rfd. Requests already in flight are not
// affected.
func (c *Client) DevClose(cfd, rfd int32) error {
	if !c.devices.remove(rfd) {
		log.Debug().Int32("rfd", rfd).Msg("iio.DevClose unknown device")
		return fmt.Errorf("%w: rfd=%d", ErrNoDevice, rfd)
	}
	return nil
}

// Close drops the channel handle cfd. Device handles opened through it stay
// valid.
func (c *Client) Close(cfd int32) error {
	if !c.channels.remove(cfd) {
		log.Debug().Int32("cfd", cfd).Msg("iio.Close unknown channel")
		return fmt.Errorf("%w: cfd=%d", ErrBadHandle, cfd)
	}
	return nil
}

func (c *Client) resolveDevice(rfd int32) (host, dev string, err error) {
	desc, ok := c.devices.find(rfd)
	if !ok {
		return "", "", fmt.Errorf("%w: rfd=%d", ErrNoDevice, rfd)
	}
	host, dev, _ = strings.Cut(desc, " ")
	return host, dev, nil
}

// Channels lists open channel handles in handle order.
func (c *Client) Channels() []HandleInfo {
	out := []HandleInfo{}
	for _, h := range c.channels.handles() {
		if host, ok := c.channels.find(h); ok {
			out = append(out, HandleInfo{Handle: h, Host: host})
		}
	}
	return out
}

// Devices lists open device handles in handle order.
func (c *Client) Devices() []HandleInfo {
	out := []HandleInfo{}
	for _, h := range c.devices.handles() {
		if host, dev, err := c.resolveDevice(h); err == nil {
			out = append(out, HandleInfo{Handle: h, Host: host, Device: dev})
		}
	}
	return out
}
