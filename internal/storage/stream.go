package storage

import (
	"context"
	"io"
	"sync"
)

// remoteStream wraps a protocol body so that the reader honours a range
// and is torn down exactly once, either by the caller or by ctx ending.
type remoteStream struct {
	io.Reader
	closeFn func() error

	mu   sync.Mutex
	stop func() bool

	once sync.Once
	err  error
}

func newRemoteStream(ctx context.Context, body io.Reader, rng *Range, closeFn func() error) io.ReadCloser {
	var r io.Reader = body
	if rng != nil {
		if n := rng.Length(); n >= 0 {
			r = io.LimitReader(body, n)
		}
	}
	s := &remoteStream{Reader: r, closeFn: closeFn}
	s.mu.Lock()
	s.stop = context.AfterFunc(ctx, func() { _ = s.Close() })
	s.mu.Unlock()
	return s
}

func (s *remoteStream) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		stop := s.stop
		s.mu.Unlock()
		if stop != nil {
			stop()
		}
		if s.closeFn != nil {
			s.err = s.closeFn()
		}
	})
	return s.err
}
