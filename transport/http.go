// Package transport carries encoded requests to model servers and hands back
// the raw response body for decoding.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/casualjim/chatwire/pkg/chaterr"
	"github.com/casualjim/chatwire/provider"
	"github.com/fogfish/opts"
	"github.com/tidwall/gjson"
)

// maxErrorBody bounds how much of a failed response is read for its message.
const maxErrorBody = 64 << 10

// Transport sends a request and returns the response body. The caller closes
// the body; closing it aborts an in-flight stream.
type Transport interface {
	Do(ctx context.Context, req *provider.Request) (io.ReadCloser, error)
}

// Func adapts a function to Transport.
type Func func(ctx context.Context, req *provider.Request) (io.ReadCloser, error)

func (f Func) Do(ctx context.Context, req *provider.Request) (io.ReadCloser, error) {
	return f(ctx, req)
}

// HTTP is a Transport over net/http.
type HTTP struct {
	client *http.Client
	// connectTimeout bounds the wait for response headers, not the stream.
	connectTimeout time.Duration
	userAgent      string
}

var (
	// WithClient replaces the underlying http.Client.
	WithClient = opts.ForName[HTTP, *http.Client]("client")
	// WithConnectTimeout bounds the wait for response headers.
	WithConnectTimeout = opts.ForName[HTTP, time.Duration]("connectTimeout")
	// WithUserAgent sets the User-Agent header.
	WithUserAgent = opts.ForName[HTTP, string]("userAgent")
)

// NewHTTP creates an HTTP transport. The default client has no overall
// timeout since a streamed reply may legitimately take minutes.
func NewHTTP(options ...opts.Option[HTTP]) *HTTP {
	t := &HTTP{
		client:         &http.Client{},
		connectTimeout: 30 * time.Second,
		userAgent:      "chatwire",
	}
	if err := opts.Apply(t, options); err != nil {
		panic(err)
	}
	return t
}

func (t *HTTP) Do(ctx context.Context, req *provider.Request) (io.ReadCloser, error) {
	hreq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, chaterr.Transport("create request", err)
	}
	hreq.Header = req.Header.Clone()
	if hreq.Header == nil {
		hreq.Header = http.Header{}
	}
	if t.userAgent != "" {
		hreq.Header.Set("User-Agent", t.userAgent)
	}

	resp, err := t.roundTrip(hreq)
	if err != nil {
		return nil, chaterr.Transport("send request", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, chaterr.Transport("send request", &StatusError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Message:    errorMessage(body),
		})
	}
	return resp.Body, nil
}

// roundTrip waits at most connectTimeout for the response headers.
func (t *HTTP) roundTrip(req *http.Request) (*http.Response, error) {
	if t.connectTimeout <= 0 {
		return t.client.Do(req)
	}

	ctx, cancel := context.WithCancelCause(req.Context())
	timer := time.AfterFunc(t.connectTimeout, func() {
		cancel(errConnectTimeout)
	})

	resp, err := t.client.Do(req.WithContext(ctx))
	if !timer.Stop() {
		if err == nil {
			resp.Body.Close()
		}
		cancel(nil)
		return nil, fmt.Errorf("%w after %s", errConnectTimeout, t.connectTimeout)
	}
	if err != nil {
		cancel(nil)
		return nil, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: func() { cancel(nil) }}
	return resp, nil
}

var errConnectTimeout = errors.New("timed out waiting for response headers")

type cancelOnClose struct {
	io.ReadCloser
	cancel func()
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// StatusError is a non-2xx response.
type StatusError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// errorMessage pulls the human readable part out of an error body, which is
// {"error":{"message":...}} for compatible servers and {"error":"..."} for
// local runtimes.
func errorMessage(body []byte) string {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return ""
	}
	if gjson.ValidBytes(body) {
		obj := gjson.ParseBytes(body)
		for _, path := range []string{"error.message", "error", "message", "detail"} {
			if v := obj.Get(path); v.Exists() && v.Type == gjson.String && v.String() != "" {
				return v.String()
			}
		}
	}
	msg := strings.TrimSpace(string(body))
	if r := []rune(msg); len(r) > 200 {
		msg = string(r[:200]) + "..."
	}
	return msg
}
