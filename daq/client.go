package daq

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"io/ioutil"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
)

// Client is a Station reached over HTTP, see NewRouter for the routes
type Client struct {
	// URL is the base URL, e.g. http://rno-g-station:8080
	URL string

	// HTTP is the client used.  It must not have a timeout shorter than a run.
	HTTP *http.Client

	// MaxElapsed bounds the retries of a request that failed in transport or with a 5xx
	MaxElapsed time.Duration
}

// NewClient creates a client for the station at url
func NewClient(url string) *Client {
	return &Client{URL: strings.TrimSuffix(url, "/"), HTTP: &http.Client{}, MaxElapsed: 10 * time.Second}
}

// statusError is a response the station gave deliberately; it is not retried
type statusError struct {
	code int
	msg  string
}

func (e statusError) Error() string {
	return http.StatusText(e.code) + ": " + e.msg
}

func errorFor(code int, msg string) error {
	switch code {
	case http.StatusNotFound:
		return errors.Wrap(ErrUnknownRun, msg)
	case http.StatusConflict:
		return errors.Wrap(ErrNoRunConfig, msg)
	}
	if strings.Contains(msg, ErrCalQuad.Error()) {
		return errors.Wrap(ErrCalQuad, msg)
	}
	return statusError{code: code, msg: msg}
}

func (c *Client) backoff() backoff.BackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     100 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         2 * time.Second,
		MaxElapsedTime:      c.MaxElapsed,
		Clock:               backoff.SystemClock}
}

// do performs an idempotent request, retrying with exponential backoff on
// transport errors and server errors.  A 4xx response ends the retries at once.
func (c *Client) do(ctx context.Context, method, route string, in, out interface{}) error {
	return c.send(ctx, c.backoff(), method, route, in, out)
}

// once performs a request a single time
func (c *Client) once(ctx context.Context, method, route string, in, out interface{}) error {
	return c.send(ctx, &backoff.StopBackOff{}, method, route, in, out)
}

func (c *Client) send(ctx context.Context, b backoff.BackOff, method, route string, in, out interface{}) error {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return err
		}
	}
	var final error
	op := func() error {
		var rdr io.Reader
		if body != nil {
			rdr = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.URL+route, rdr)
		if err != nil {
			final = err
			return nil
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := c.HTTP.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				final = ctx.Err()
				return nil
			}
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			msg, _ := ioutil.ReadAll(resp.Body)
			return statusError{code: resp.StatusCode, msg: strings.TrimSpace(string(msg))}
		}
		if resp.StatusCode >= 400 {
			msg, _ := ioutil.ReadAll(resp.Body)
			final = errorFor(resp.StatusCode, strings.TrimSpace(string(msg)))
			return nil
		}
		if out != nil {
			final = json.NewDecoder(resp.Body).Decode(out)
		} else {
			final = nil
		}
		return nil
	}
	err := backoff.Retry(op, b)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, route)
	}
	if final != nil {
		return errors.Wrapf(final, "%s %s", method, route)
	}
	return nil
}

// BoardUID implements Station
func (c *Client) BoardUID(ctx context.Context) (string, error) {
	var u uidT
	err := c.do(ctx, http.MethodGet, "/uid", nil, &u)
	return u.UID, err
}

// SetRunConfig implements Station
func (c *Client) SetRunConfig(ctx context.Context, conf RunConfig) error {
	return c.do(ctx, http.MethodPost, "/run-conf", conf, nil)
}

// CalSelect implements Station
func (c *Client) CalSelect(ctx context.Context, quad int) error {
	return c.do(ctx, http.MethodPost, "/calselect", calSelectT{Quad: quad}, nil)
}

// SurfaceAmps implements Station
func (c *Client) SurfaceAmps(ctx context.Context, on bool) error {
	return c.do(ctx, http.MethodPost, "/surface-amps", ampsT{On: on}, nil)
}

// StartRun implements Station.  It is not retried since a lost reply
// would start a second run.
func (c *Client) StartRun(ctx context.Context) (Run, error) {
	var r Run
	err := c.once(ctx, http.MethodPost, "/run", nil, &r)
	return r, err
}

// WaitRun implements Station
func (c *Client) WaitRun(ctx context.Context, id string) (Summary, error) {
	var s Summary
	err := c.do(ctx, http.MethodGet, "/run/"+id, nil, &s)
	return s, err
}

// Inject implements Injector for a simulated station served by NewRouter
func (c *Client) Inject(ctx context.Context, pulses int, mVpp float64) error {
	return c.do(ctx, http.MethodPost, "/sim/inject", injectT{Pulses: pulses, MVpp: mVpp}, nil)
}
