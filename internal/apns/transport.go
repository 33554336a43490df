package apns

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/http2"
)

// Transport carries a single request to the gateway and returns its
// response. Implementations must be safe for concurrent use.
type Transport interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// TransportFunc adapts a plain function to the Transport interface.
type TransportFunc func(ctx context.Context, req *Request) (*Response, error)

func (f TransportFunc) Do(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Response is the gateway response. The caller owns Body and must close it.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// HeaderValue returns the first value of the named header, ignoring case.
func (r *Response) HeaderValue(name string) string {
	if r.Header == nil {
		return ""
	}
	return r.Header.Get(name)
}

const (
	readIdleTimeout = 30 * time.Second
	pingTimeout     = 15 * time.Second
)

// HTTPTransport sends requests over one multiplexed HTTP/2 connection.
type HTTPTransport struct {
	baseURL string
	client  *http.Client
}

func NewHTTPTransport(tlsConfig *tls.Config, baseURL string) *HTTPTransport {
	t := &http2.Transport{
		TLSClientConfig: tlsConfig,
		ReadIdleTimeout: readIdleTimeout,
		PingTimeout:     pingTimeout,
	}

	client := &http.Client{Transport: otelhttp.NewTransport(t)}

	return &HTTPTransport{baseURL: baseURL, client: client}
}

func (t *HTTPTransport) Do(ctx context.Context, r *Request) (*Response, error) {
	req, err := r.HTTPRequest(ctx, t.baseURL)
	if err != nil {
		return nil, err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// CloseIdleConnections closes the underlying connection once it is idle.
func (t *HTTPTransport) CloseIdleConnections() {
	t.client.CloseIdleConnections()
}
