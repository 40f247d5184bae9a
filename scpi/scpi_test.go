package scpi

import (
	"bufio"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rno-g/radiantbench/comm"
)

// fakeInstrument answers newline terminated commands over a net.Pipe
type fakeInstrument struct {
	mu       sync.Mutex
	received []string
	reply    func(line string) (string, bool)
}

func (f *fakeInstrument) lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.received...)
}

func (f *fakeInstrument) maker() comm.CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		near, far := net.Pipe()
		go func() {
			sc := bufio.NewScanner(far)
			for sc.Scan() {
				line := sc.Text()
				f.mu.Lock()
				f.received = append(f.received, line)
				f.mu.Unlock()
				if resp, ok := f.reply(line); ok {
					far.Write([]byte(resp + "\n"))
				}
			}
		}()
		return near, nil
	}
}

func newTestSCPI(f *fakeInstrument, handshaking bool) *SCPI {
	return &SCPI{Pool: comm.NewPool(1, time.Minute, f.maker()), Handshaking: handshaking}
}

func TestWriteHandshakeOK(t *testing.T) {
	f := &fakeInstrument{reply: func(string) (string, bool) { return `+0,"No error"`, true }}
	s := newTestSCPI(f, true)
	if err := s.Write("OUTP1 ON"); err != nil {
		t.Fatal(err)
	}
	got := f.lines()
	if len(got) != 1 || got[0] != "*CLS; OUTP1 ON ;:SYSTem:ERRor?" {
		t.Errorf("unexpected wire traffic %q", got)
	}
}

func TestWriteHandshakeDeviceError(t *testing.T) {
	f := &fakeInstrument{reply: func(string) (string, bool) { return `-222,"Data out of range"`, true }}
	s := newTestSCPI(f, true)
	err := s.Write("VOLT1:AMPL 9 VPP")
	e, ok := err.(Error)
	if !ok {
		t.Fatalf("expected an scpi.Error, got %v", err)
	}
	if e.Code != -222 || e.Message != "Data out of range" {
		t.Errorf("unexpected error %+v", e)
	}
	if s.Pool.Size() != 1 {
		t.Error("a device error must not discard the connection")
	}
}

func TestWriteWithoutHandshakeDoesNotRead(t *testing.T) {
	f := &fakeInstrument{reply: func(string) (string, bool) { return "", false }}
	s := newTestSCPI(f, false)
	if err := s.Write("ARM:SOUR1 IMM"); err != nil {
		t.Fatal(err)
	}
}

func TestReadStringStripsErrorQuery(t *testing.T) {
	f := &fakeInstrument{reply: func(line string) (string, bool) {
		if strings.Contains(line, "*IDN?") {
			return `Agilent Technologies,81160A,MY1234,2.0;+0,"No error"`, true
		}
		return "", false
	}}
	s := newTestSCPI(f, true)
	id, err := s.ReadString("*IDN?")
	if err != nil {
		t.Fatal(err)
	}
	if id != "Agilent Technologies,81160A,MY1234,2.0" {
		t.Errorf("unexpected id %q", id)
	}
}

func TestReadFloat(t *testing.T) {
	f := &fakeInstrument{reply: func(string) (string, bool) { return "+2.500000000000000E-01\r", true }}
	s := newTestSCPI(f, false)
	v, err := s.ReadFloat("VOLT1:AMPL?")
	if err != nil {
		t.Fatal(err)
	}
	if v != 0.25 {
		t.Errorf("expected 0.25, got %f", v)
	}
}

func TestReadBoolAcceptsOnOff(t *testing.T) {
	f := &fakeInstrument{reply: func(string) (string, bool) { return "ON", true }}
	s := newTestSCPI(f, false)
	on, err := s.ReadBool("OUTP1?")
	if err != nil || !on {
		t.Errorf("expected true, got %t %v", on, err)
	}
}

func TestAllErrorsDrainsQueue(t *testing.T) {
	queue := []string{`-113,"Undefined header"`, `-222,"Data out of range"`, `+0,"No error"`}
	f := &fakeInstrument{}
	f.reply = func(string) (string, bool) {
		head := queue[0]
		if len(queue) > 1 {
			queue = queue[1:]
		}
		return head, true
	}
	s := newTestSCPI(f, true)
	errs := s.AllErrors(10)
	if len(errs) != 2 {
		t.Fatalf("expected 2 queued errors, got %v", errs)
	}
	for _, line := range f.lines() {
		if strings.HasPrefix(line, "*CLS") {
			t.Error("popping errors must not clear the queue")
		}
	}
}

func TestParseError(t *testing.T) {
	if err := ParseError(`+0,"No error"`); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
	if err := ParseError("garbage"); err == nil {
		t.Error("expected malformed response to be an error")
	}
}
