package modem

import (
	"fmt"
	"sync"
	"time"
)

// channel turns a blocking Transport into the byte-level view the
// transaction engine needs: a count of buffered bytes and single-byte reads
// bounded by a timeout. One goroutine owns all reads from the transport.
type channel struct {
	transport Transport

	mu   sync.Mutex
	buf  []byte
	wait chan struct{}
	err  error
}

func newChannel(t Transport) *channel {
	c := &channel{transport: t, wait: make(chan struct{})}
	go c.readLoop()
	return c
}

func (c *channel) readLoop() {
	p := make([]byte, 512)
	for {
		n, err := c.transport.Read(p)
		c.mu.Lock()
		if n > 0 {
			c.buf = append(c.buf, p[:n]...)
		}
		if err != nil {
			c.err = err
		}
		old := c.wait
		c.wait = make(chan struct{})
		c.mu.Unlock()
		close(old)
		if err != nil {
			return
		}
	}
}

// available returns the number of bytes buffered and not yet consumed.
func (c *channel) available() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buf)
}

// readByte returns the next byte, waiting up to timeout for one to arrive.
// It fails with ErrTimeout, or with ErrClosed once the transport is gone and
// the buffer is empty.
func (c *channel) readByte(timeout time.Duration) (byte, error) {
	var timer *time.Timer
	for {
		c.mu.Lock()
		if len(c.buf) > 0 {
			b := c.buf[0]
			c.buf = c.buf[1:]
			c.mu.Unlock()
			if timer != nil {
				timer.Stop()
			}
			return b, nil
		}
		if c.err != nil {
			err := c.err
			c.mu.Unlock()
			if timer != nil {
				timer.Stop()
			}
			return 0, fmt.Errorf("%w: %v", ErrClosed, err)
		}
		ch := c.wait
		c.mu.Unlock()

		if timeout <= 0 {
			return 0, ErrTimeout
		}
		if timer == nil {
			timer = time.NewTimer(timeout)
		}
		select {
		case <-ch:
		case <-timer.C:
			return 0, ErrTimeout
		}
	}
}

// discard drops and returns everything currently buffered.
func (c *channel) discard() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.buf
	c.buf = nil
	return out
}

func (c *channel) write(p []byte) (int, error) {
	return c.transport.Write(p)
}

// flush waits for written bytes to leave the transport when it supports it.
func (c *channel) flush() error {
	if d, ok := c.transport.(drainer); ok {
		return d.Drain()
	}
	return nil
}

// closedErr reports the terminal transport error, if any.
func (c *channel) closedErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}
