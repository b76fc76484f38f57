package fetch

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"
)

// stallTimer cancels an attempt when no progress has been made for timeout.
// It is armed when the request starts and re-armed whenever body bytes arrive,
// so a slow but steady transfer never trips it.
type stallTimer struct {
	timeout time.Duration
	timer   *time.Timer
	fired   atomic.Bool
}

func newStallTimer(timeout time.Duration, cancel context.CancelFunc) *stallTimer {
	s := &stallTimer{timeout: timeout}
	s.timer = time.AfterFunc(timeout, func() {
		s.fired.Store(true)
		cancel()
	})
	return s
}

func (s *stallTimer) touch() {
	if !s.fired.Load() {
		s.timer.Reset(s.timeout)
	}
}

func (s *stallTimer) stop() {
	s.timer.Stop()
}

// Fired reports whether the attempt was cancelled for lack of progress.
func (s *stallTimer) Fired() bool {
	return s.fired.Load()
}

// progressReader re-arms the stall timer on every successful read.
type progressReader struct {
	r     io.Reader
	stall *stallTimer
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.stall.touch()
	}
	return n, err
}

// newHTTPClient builds the default client. Connection setup and the wait for
// response headers are bounded by timeout; the body has no overall deadline.
func newHTTPClient(timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	transport.TLSHandshakeTimeout = timeout
	transport.ResponseHeaderTimeout = timeout
	return &http.Client{Transport: transport}
}
