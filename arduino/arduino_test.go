package arduino

import (
	"bufio"
	"errors"
	"io"
	"io/ioutil"
	"log"
	"net"
	"testing"
)

func TestRouteSignalToChannel(t *testing.T) {
	lines := make(chan string, 4)
	maker := func() (io.ReadWriteCloser, error) {
		near, far := net.Pipe()
		go func() {
			sc := bufio.NewScanner(far)
			for sc.Scan() {
				lines <- sc.Text()
			}
		}()
		return near, nil
	}
	r := NewRouterWithMaker(maker)
	r.Logger = log.New(ioutil.Discard, "", 0)
	if err := r.RouteSignalToChannel(17); err != nil {
		t.Fatal(err)
	}
	if got := <-lines; got != "17" {
		t.Errorf("expected \"17\", got %q", got)
	}
}

func TestRouteRejectsBadChannel(t *testing.T) {
	r := NewRouterWithMaker(func() (io.ReadWriteCloser, error) {
		t.Fatal("the port must not be opened for a bad channel")
		return nil, nil
	})
	for _, ch := range []int{-1, 24} {
		if err := r.RouteSignalToChannel(ch); err == nil {
			t.Errorf("expected an error for channel %d", ch)
		}
	}
}

func TestRouteRetriesOpen(t *testing.T) {
	var opens int
	maker := func() (io.ReadWriteCloser, error) {
		opens++
		return nil, errors.New("port busy")
	}
	r := NewRouterWithMaker(maker)
	if err := r.RouteSignalToChannel(3); err == nil {
		t.Fatal("expected an error when the port never opens")
	}
	if opens != attempts {
		t.Errorf("expected %d attempts, got %d", attempts, opens)
	}
}
