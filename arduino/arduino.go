// Package arduino controls the Arduino Nano relay board that routes the
// bridged signal generator output to one of the RADIANT channels
package arduino

import (
	"io"
	"log"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/tarm/serial"

	"github.com/rno-g/radiantbench/comm"
)

const (
	// Baud is the serial rate of the relay firmware
	Baud = 9600

	// NumChannels is the number of RADIANT channels the relays can reach
	NumChannels = 24

	attempts = 5
)

// Router is the relay board
type Router struct {
	pool *comm.Pool

	// Logger receives one line per routing change; nil means log.Default()
	Logger *log.Logger
}

// SerialConf returns the port configuration of the relay board
func SerialConf(port string) *serial.Config {
	return &serial.Config{Name: port, Baud: Baud, ReadTimeout: time.Second}
}

// NewRouter opens the relay board on a serial port, e.g. /dev/ttyUSB0 or COM3
func NewRouter(port string) *Router {
	return NewRouterWithMaker(comm.SerialMaker(SerialConf(port)))
}

// NewRouterWithMaker creates a router over an arbitrary connection
func NewRouterWithMaker(maker comm.CreationFunc) *Router {
	return &Router{pool: comm.NewPool(1, time.Minute, maker)}
}

func (r *Router) logger() *log.Logger {
	if r.Logger == nil {
		return log.Default()
	}
	return r.Logger
}

func (r *Router) write(msg string) (err error) {
	conn, err := r.pool.Get()
	if err != nil {
		return err
	}
	defer func() { r.pool.ReturnWithError(conn, err) }()
	_, err = io.WriteString(comm.NewTerminator(conn, '\n', '\n'), msg)
	return err
}

// RouteSignalToChannel switches the relays so the signal reaches ch.
// The serial link is reopened and the write retried a few times if it fails.
func (r *Router) RouteSignalToChannel(ch int) error {
	if ch < 0 || ch >= NumChannels {
		return errors.Errorf("channel %d is not a RADIANT channel", ch)
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = r.write(strconv.Itoa(ch)); err == nil {
			r.logger().Printf("arduino is routing the signal to channel %d", ch)
			return nil
		}
	}
	return errors.Wrapf(err, "route signal to channel %d after %d attempts", ch, attempts)
}

// Close releases the serial port
func (r *Router) Close() error {
	return r.pool.Close()
}
