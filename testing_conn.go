package realtime

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"
)

// scriptedConn is a Conn the tests drive by hand: frames are injected through
// push, unsolicited closures through fail.
type scriptedConn struct {
	script *connScript

	recv      chan<- []byte
	closeC    CloseChan
	closeOnce sync.Once

	mu       sync.Mutex
	written  [][]byte
	closeErr error
}

func (c *scriptedConn) Open(_ context.Context) error {
	if err := c.script.dialError(); err != nil {
		return err
	}
	c.script.opened(c)
	return nil
}

func (c *scriptedConn) Write(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, frame)
	return nil
}

func (c *scriptedConn) Close() {
	c.closeOnce.Do(func() { close(c.closeC) })
}

func (c *scriptedConn) CloseChan() CloseChan { return c.closeC }

func (c *scriptedConn) CloseErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

func (c *scriptedConn) push(frame []byte) {
	c.recv <- frame
}

// fail simulates an unsolicited closure with the given reason.
func (c *scriptedConn) fail(err error) {
	c.mu.Lock()
	c.closeErr = err
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.closeC) })
}

func (c *scriptedConn) frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.written))
	copy(out, c.written)
	return out
}

// connScript produces scriptedConns and records the ones that opened.
type connScript struct {
	mu      sync.Mutex
	dialErr error
	conns   []*scriptedConn
}

func (s *connScript) factory(recv chan<- []byte) Conn {
	return &scriptedConn{
		script: s,
		recv:   recv,
		closeC: make(CloseChan),
	}
}

func (s *connScript) dialError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dialErr
}

func (s *connScript) setDialError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dialErr = err
}

func (s *connScript) opened(c *scriptedConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns = append(s.conns, c)
}

func (s *connScript) openedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *connScript) lastConn() *scriptedConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) == 0 {
		return nil
	}
	return s.conns[len(s.conns)-1]
}

type mockProgressSource struct {
	mock.Mock
}

func (m *mockProgressSource) Progress(
	ctx context.Context,
	userID string,
	audioID int64,
) (ProgressUpdate, error) {
	args := m.Called(ctx, userID, audioID)
	return args.Get(0).(ProgressUpdate), args.Error(1)
}
