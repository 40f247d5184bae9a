// Package scpi sends SCPI commands over a comm.Pool and checks the
// device error queue
package scpi

import (
	"bytes"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/rno-g/radiantbench/comm"
)

const (
	timeout = 5 * time.Second

	tcpFrameSize = 1500

	errQuery = ":SYSTem:ERRor?"
)

// Error is an entry of the device error queue, e.g. -222,"Data out of range"
type Error struct {
	Code    int
	Message string
}

func (e Error) Error() string {
	return strconv.Itoa(e.Code) + "," + strconv.Quote(e.Message)
}

// ParseError parses a response to SYSTem:ERRor?.  It returns nil for "+0,..."
func ParseError(s string) error {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "+0") || s == "0" || strings.HasPrefix(s, "0,") {
		return nil
	}
	pieces := strings.SplitN(s, ",", 2)
	code, err := strconv.Atoi(strings.TrimSpace(pieces[0]))
	if err != nil {
		return errors.Errorf("malformed error queue response %q", s)
	}
	e := Error{Code: code}
	if len(pieces) == 2 {
		e.Message = strings.Trim(strings.TrimSpace(pieces[1]), `"`)
	}
	return e
}

// SCPI is a command channel to one instrument
type SCPI struct {
	Pool *comm.Pool

	// Handshaking appends an error query to every message and returns
	// the device error, if any
	Handshaking bool
}

func (s *SCPI) frame(cmds []string) string {
	if s.Handshaking {
		cmds = append([]string{"*CLS;"}, cmds...)
		cmds = append(cmds, ";"+errQuery)
	}
	return strings.Join(cmds, " ")
}

// transact writes the commands and, if read is true, reads one response line
func (s *SCPI) transact(cmds []string, read bool) (resp []byte, err error) {
	conn, err := s.Pool.Get()
	if err != nil {
		return nil, err
	}
	// device errors are parsed by the caller, any error here is the transport's
	defer func() { s.Pool.ReturnWithError(conn, err) }()
	wrap := comm.NewTerminator(comm.NewTimeout(conn, timeout), '\n', '\n')
	if _, err = io.WriteString(wrap, s.frame(cmds)); err != nil {
		return nil, err
	}
	if !read && !s.Handshaking {
		return nil, nil
	}
	buf := make([]byte, tcpFrameSize)
	n, err := wrap.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// Write sends a command to the device.  if s.Handshaking == true,
// it also requests an error response and checks that it is OK.
// It is assumed this is used for set operations and not get.
func (s *SCPI) Write(cmds ...string) error {
	resp, err := s.transact(cmds, false)
	if err != nil {
		return err
	}
	if s.Handshaking {
		return ParseError(string(resp))
	}
	return nil
}

// WriteRead is write, but with a read call after.  It is assumed that "get"
// calls use this underlying mechanism
func (s *SCPI) WriteRead(cmds ...string) ([]byte, error) {
	resp, err := s.transact(cmds, true)
	if err != nil {
		return resp, err
	}
	if s.Handshaking {
		idx := bytes.LastIndexByte(resp, ';')
		if idx < 0 {
			return resp, errors.Errorf("device ignored the error query, response %q", resp)
		}
		if err := ParseError(string(resp[idx+1:])); err != nil {
			return resp[:idx], err
		}
		return resp[:idx], nil
	}
	return resp, nil
}

// ReadString sends a command to the device, the reads the response
// and returns it as a decoded ASCII or UTF-8 string
func (s *SCPI) ReadString(cmds ...string) (string, error) {
	resp, err := s.WriteRead(cmds...)
	return strings.TrimRight(string(resp), "\r\n"), err
}

// ReadFloat sends a command to the device, then reads the
// response and parses it as a floating point value
func (s *SCPI) ReadFloat(cmds ...string) (float64, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(strings.TrimSpace(resp), 64)
}

// ReadBool sends a command to the device, then reads the
// response and parses it as a boolean
func (s *SCPI) ReadBool(cmds ...string) (bool, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return false, err
	}
	switch strings.ToUpper(strings.TrimSpace(resp)) {
	case "ON":
		return true, nil
	case "OFF":
		return false, nil
	}
	return strconv.ParseBool(strings.TrimSpace(resp))
}

// ReadInt sends a command to the device, then reads the
// response and parses it as an integer
func (s *SCPI) ReadInt(cmds ...string) (int, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(resp))
}

// Raw sends a command to the device and returns a response if it was a query,
// else a blank string.  Raw never handshakes.
func (s *SCPI) Raw(str string) (string, error) {
	raw := SCPI{Pool: s.Pool}
	if strings.Contains(str, "?") {
		return raw.ReadString(str)
	}
	return "", raw.Write(str)
}

// PopError gets a single error from the queue on the device
func (s *SCPI) PopError() error {
	str, err := s.Raw(errQuery)
	if err != nil {
		return err
	}
	return ParseError(str)
}

// AllErrors drains the device error queue, up to limit entries
func (s *SCPI) AllErrors(limit int) []error {
	var errs []error
	for i := 0; i < limit; i++ {
		err := s.PopError()
		if err == nil {
			break
		}
		errs = append(errs, err)
		if _, ok := err.(Error); !ok {
			// transport trouble, the queue cannot be read
			break
		}
	}
	return errs
}
