package comm

import (
	"io"
	"sync"
	"time"
)

// Pool holds one or more connections to a device.  Connections are made on
// demand, reused while in active use, and closed once all of them have been
// idle for the timeout.  It is concurrent safe.  Pools must be created with NewPool.
type Pool struct {
	maxSize int
	timeout time.Duration
	maker   CreationFunc

	// slots holds one token per connection on lease, bounding them to maxSize
	slots chan struct{}

	mu      sync.Mutex
	idle    []io.ReadWriteCloser
	onLease int
	reclaim *time.Timer
}

// NewPool creates a pool of at most maxSize connections
func NewPool(maxSize int, timeout time.Duration, maker CreationFunc) *Pool {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Pool{
		maxSize: maxSize,
		timeout: timeout,
		maker:   maker,
		slots:   make(chan struct{}, maxSize),
	}
}

// Get retrieves a connection, blocking until one is available if all are in
// use.  There is no contention for the returned connection until it is given back.
//
// When done with the connection, return it with Put, or discard it with
// Destroy if it has gone bad.  If the error from Get is not nil, the
// connection must not be returned to the pool.
func (p *Pool) Get() (io.ReadWriter, error) {
	p.slots <- struct{}{}
	p.mu.Lock()
	if p.reclaim != nil {
		p.reclaim.Stop()
		p.reclaim = nil
	}
	if n := len(p.idle); n > 0 {
		c := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.onLease++
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	c, err := p.maker()
	if err != nil {
		<-p.slots
		return nil, err
	}
	p.mu.Lock()
	p.onLease++
	p.mu.Unlock()
	return c, nil
}

// Put restores a connection to the pool
func (p *Pool) Put(rw io.ReadWriter) {
	rwc := rw.(io.ReadWriteCloser)
	p.mu.Lock()
	p.idle = append(p.idle, rwc)
	p.onLease--
	if p.onLease == 0 && p.timeout > 0 {
		p.reclaim = time.AfterFunc(p.timeout, p.closeIdle)
	}
	p.mu.Unlock()
	<-p.slots
}

// Destroy immediately closes a connection and frees its slot in the pool
func (p *Pool) Destroy(rw io.ReadWriter) {
	if rwc, ok := rw.(io.Closer); ok {
		rwc.Close()
	}
	p.mu.Lock()
	p.onLease--
	p.mu.Unlock()
	<-p.slots
}

// ReturnWithError returns a connection with Put if err is nil, otherwise
// it is assumed the connection has gone bad and it is destroyed
func (p *Pool) ReturnWithError(rw io.ReadWriter, err error) {
	if err != nil {
		p.Destroy(rw)
		return
	}
	p.Put(rw)
}

// Size returns the number of connections in the pool, or given out from it
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle) + p.onLease
}

// Active returns the number of connections owned by the pool that are currently
// given out
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onLease
}

// Close closes every idle connection.  Connections on lease are not affected.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reclaim != nil {
		p.reclaim.Stop()
		p.reclaim = nil
	}
	var first error
	for _, c := range p.idle {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	p.idle = nil
	return first
}

func (p *Pool) closeIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.onLease > 0 {
		return
	}
	for _, c := range p.idle {
		c.Close()
	}
	p.idle = nil
	p.reclaim = nil
}
