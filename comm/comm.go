/*Package comm provides connection plumbing for the bench instruments.

Most drivers boil down to:
	1.  build a CreationFunc with TCPMaker or SerialMaker
	2.  hold a Pool of one connection made from it
	3.  for each transaction, Get a connection, wrap it in a Timeout and a
		Terminator, write the command and read the terminated response
	4.  hand the connection back with ReturnWithError

A minimal example for an instrument that answers "*IDN?" over TCP:

	pool := comm.NewPool(1, time.Minute, comm.TCPMaker("192.168.1.20:5025", time.Second))
	conn, err := pool.Get()
	if err != nil {
		return "", err
	}
	defer func() { pool.ReturnWithError(conn, err) }()
	wrap := comm.NewTerminator(comm.NewTimeout(conn, 3*time.Second), '\n', '\n')
	if _, err = io.WriteString(wrap, "*IDN?"); err != nil {
		return "", err
	}
	buf := make([]byte, 128)
	n, err := wrap.Read(buf)
	return string(buf[:n]), err
*/
package comm

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

var (
	// ErrNotConnected is generated when a connection is used after it was closed or never opened
	ErrNotConnected = errors.New("not connected to remote")

	// ErrTerminatorNotFound is generated when the termination byte is not found in a response
	ErrTerminatorNotFound = errors.New("termination byte not found")
)

// CreationFunc returns a new connection to something.
// A closure should be used to encapsulate the address and settings.
type CreationFunc func() (io.ReadWriteCloser, error)

// TCPSetup opens a new TCP connection with a timeout on connect
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("tcp", addr, timeout)
}

// TCPMaker returns a CreationFunc that dials addr, retrying with exponential
// backoff for a few seconds.  Instruments behind cheap LXI stacks do not like
// being connection thrashed and often refuse the first attempt after a close.
func TCPMaker(addr string, timeout time.Duration) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		var conn net.Conn
		op := func() error {
			var err error
			conn, err = TCPSetup(addr, timeout)
			return err
		}
		err := backoff.Retry(op, &backoff.ExponentialBackOff{
			InitialInterval:     25 * time.Millisecond,
			RandomizationFactor: 0.,
			Multiplier:          2.,
			MaxInterval:         1 * time.Second,
			MaxElapsedTime:      3 * time.Second,
			Clock:               backoff.SystemClock})
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// SerialMaker returns a CreationFunc that opens a serial port
func SerialMaker(conf *serial.Config) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		return serial.OpenPort(conf)
	}
}

// deadliner is satisfied by net.Conn and friends
type deadliner interface {
	SetDeadline(time.Time) error
}

// Timeout arms a fresh deadline on the underlying connection before every
// Read and Write.  Connections without deadlines (serial ports, which time
// out through their own configuration) pass through unchanged.
type Timeout struct {
	rw      io.ReadWriter
	timeout time.Duration
}

// NewTimeout wraps rw
func NewTimeout(rw io.ReadWriter, timeout time.Duration) *Timeout {
	return &Timeout{rw: rw, timeout: timeout}
}

func (t *Timeout) arm() error {
	if d, ok := t.rw.(deadliner); ok && t.timeout > 0 {
		return d.SetDeadline(time.Now().Add(t.timeout))
	}
	return nil
}

// Read implements io.Reader
func (t *Timeout) Read(b []byte) (int, error) {
	if err := t.arm(); err != nil {
		return 0, err
	}
	return t.rw.Read(b)
}

// Write implements io.Writer
func (t *Timeout) Write(b []byte) (int, error) {
	if err := t.arm(); err != nil {
		return 0, err
	}
	return t.rw.Write(b)
}

// Terminator frames messages: Write appends the Tx byte, Read returns one
// message up to the Rx byte, with the terminator stripped.
//
// A Terminator buffers its reads and is meant to live for a single
// transaction; bytes after the terminator are not preserved.
type Terminator struct {
	w      io.Writer
	r      *bufio.Reader
	rx, tx byte
}

// NewTerminator wraps rw with the given receive and transmit terminators
func NewTerminator(rw io.ReadWriter, rx, tx byte) *Terminator {
	return &Terminator{w: rw, r: bufio.NewReader(rw), rx: rx, tx: tx}
}

// Write sends b followed by the Tx terminator.  The terminator is not counted in n.
func (t *Terminator) Write(b []byte) (int, error) {
	buf := make([]byte, 0, len(b)+1)
	buf = append(buf, b...)
	buf = append(buf, t.tx)
	n, err := t.w.Write(buf)
	if n > len(b) {
		n = len(b)
	}
	return n, err
}

// Read reads one message into b.  If b is too small the message is
// truncated to len(b).
func (t *Terminator) Read(b []byte) (int, error) {
	msg, err := t.r.ReadBytes(t.rx)
	if err != nil {
		if err == io.EOF && len(msg) > 0 {
			err = ErrTerminatorNotFound
		}
		return copy(b, msg), err
	}
	msg = bytes.TrimSuffix(msg, []byte{t.rx})
	return copy(b, msg), nil
}
